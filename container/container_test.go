package container

import (
	"errors"
	"sync"
	"testing"

	"github.com/dormoron/polyel/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type english struct{ name string }

func (e *english) Greet() string { return "hello " + e.name }

type counter struct{ n int }

func TestResolve_Lifetimes(t *testing.T) {
	c := New()
	builds := 0
	Singleton(c, func(c *Container) (*counter, error) {
		builds++
		return &counter{n: builds}, nil
	})

	a := MustResolve[*counter](c)
	b := MustResolve[*counter](c.Scope())
	assert.Same(t, a, b)
	assert.Equal(t, 1, builds)

	transient := 0
	Transient(c, func(c *Container) (*english, error) {
		transient++
		return &english{name: "t"}, nil
	})
	x := MustResolve[*english](c)
	y := MustResolve[*english](c)
	assert.NotSame(t, x, y)
	assert.Equal(t, 2, transient)
}

func TestResolve_Scoped(t *testing.T) {
	root := New()
	Scoped(root, func(c *Container) (*counter, error) {
		return &counter{}, nil
	})

	s1 := root.Scope()
	s2 := root.Scope()
	a1 := MustResolve[*counter](s1)
	a2 := MustResolve[*counter](s1)
	b1 := MustResolve[*counter](s2)
	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
}

func TestResolve_Interface(t *testing.T) {
	c := New()
	Instance[greeter](c, &english{name: "polyel"})
	g, err := Resolve[greeter](c)
	require.NoError(t, err)
	assert.Equal(t, "hello polyel", g.Greet())
}

func TestResolve_Dependencies(t *testing.T) {
	c := New()
	Instance(c, "world")
	Singleton(c, func(c *Container) (*english, error) {
		name, err := Resolve[string](c)
		if err != nil {
			return nil, err
		}
		return &english{name: name}, nil
	})
	Singleton[greeter](c, func(c *Container) (greeter, error) {
		return Resolve[*english](c)
	})

	g := MustResolve[greeter](c)
	assert.Equal(t, "hello world", g.Greet())
}

func TestResolve_NotFound(t *testing.T) {
	c := New()
	_, err := Resolve[*english](c)
	require.Error(t, err)
	assert.True(t, errs.IsDependencyNotFound(err))
	assert.False(t, Has[*english](c))
	assert.Panics(t, func() { MustResolve[*english](c) })
}

func TestResolve_FactoryError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	Singleton(c, func(c *Container) (*english, error) {
		return nil, boom
	})
	_, err := Resolve[*english](c)
	assert.ErrorIs(t, err, boom)
}

func TestScope_Override(t *testing.T) {
	root := New()
	Instance(root, "root")
	scope := root.Scope()
	Instance(scope, "request")

	assert.Equal(t, "request", MustResolve[string](scope))
	assert.Equal(t, "root", MustResolve[string](root))
	assert.Same(t, root, scope.Parent())
}

func TestSingleton_Concurrent(t *testing.T) {
	c := New()
	builds := 0
	Singleton(c, func(c *Container) (*counter, error) {
		builds++
		return &counter{}, nil
	})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = MustResolve[*counter](c.Scope())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, builds)
}
