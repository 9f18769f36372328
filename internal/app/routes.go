package app

import "github.com/dormoron/polyel"

// Routes 是应用的路由文件
func Routes(r *polyel.Router) {
	r.Get("/", "HomeController@index")
	r.Get("/login", "AuthController@showLogin").Middleware(MiddlewareGuest)
	r.Post("/login", "AuthController@login").Middleware(MiddlewareGuest, MiddlewareLockout)

	r.Group(polyel.GroupAttributes{Middleware: []string{MiddlewareAuth}}, func(r *polyel.Router) {
		r.Get("/dashboard", "HomeController@dashboard")
		r.Post("/logout", "AuthController@logout")
	})
	if err := r.Redirect("/home", "/dashboard"); err != nil {
		panic(err)
	}

	r.API(func(r *polyel.Router) {
		r.Post("/api/token", "AuthController@token").Middleware(MiddlewareLockout)
		r.Get("/api/me", "HomeController@me").Middleware(MiddlewareAuthToken)
	})
}
