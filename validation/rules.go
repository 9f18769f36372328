package validation

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ruleBail 让字段在第一条失败的规则后停止检查
const ruleBail = "bail"

type rule struct {
	name   string
	params []string
}

// parseRules 解析 "required|email|min:3" 形式的规则
func parseRules(s string) []rule {
	var res []rule
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, _ := strings.Cut(part, ":")
		r := rule{name: name}
		if raw != "" {
			r.params = strings.Split(raw, ",")
		}
		res = append(res, r)
	}
	return res
}

// parseTag 解析结构体标签 `validate:"required,min=3,in=a b"`
func parseTag(tag string) []rule {
	var res []rule
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, _ := strings.Cut(part, "=")
		r := rule{name: name}
		if raw != "" {
			r.params = strings.Fields(raw)
		}
		res = append(res, r)
	}
	return res
}

func (r rule) intParam(i int) int {
	if i >= len(r.params) {
		panic(fmt.Sprintf("validation: 规则 %s 缺少参数", r.name))
	}
	n, err := strconv.Atoi(r.params[i])
	if err != nil {
		panic(fmt.Sprintf("validation: 规则 %s 的参数 %q 不是整数", r.name, r.params[i]))
	}
	return n
}

// applyString 对字符串值执行一条规则，lookup 用来读取其他字段
func (v *Validator) applyString(field, value string, r rule, lookup func(string) string) {
	switch r.name {
	case "required":
		v.Required(value, field)
	case "min":
		if value != "" {
			v.MinLength(value, r.intParam(0), field)
		}
	case "max":
		v.MaxLength(value, r.intParam(0), field)
	case "between":
		if value != "" {
			v.Between(value, r.intParam(0), r.intParam(1), field)
		}
	case "email":
		v.Email(value, field)
	case "url":
		v.URL(value, field)
	case "alpha":
		v.Alpha(value, field)
	case "alpha_num", "alphanum":
		v.Alphanumeric(value, field)
	case "alpha_dash":
		v.AlphaDash(value, field)
	case "numeric":
		v.Numeric(value, field)
	case "integer":
		v.Integer(value, field)
	case "in":
		v.InList(value, r.params, field)
	case "starts_with":
		v.StartsWith(value, r.params, field)
	case "ends_with":
		v.EndsWith(value, r.params, field)
	case "confirmed":
		v.Confirmed(value, lookup(field+"_confirmation"), field)
	case ruleBail:
	default:
		panic(fmt.Sprintf("validation: 未知的规则 %q", r.name))
	}
}

func (v *Validator) applyRules(field string, rules []rule, apply func(r rule)) {
	bail := false
	for _, r := range rules {
		if r.name == ruleBail {
			bail = true
		}
	}
	for _, r := range rules {
		before := len(v.errors[field])
		apply(r)
		if bail && len(v.errors[field]) > before {
			return
		}
	}
}

// ValidateValues 按字段规则校验表单数据，全部通过时返回 nil。
//
// 示例:
//
//	errs := validation.ValidateValues(ctx.Request.PostForm, map[string]string{
//	  "email":    "required|email",
//	  "password": "bail|required|min:8|confirmed",
//	})
func ValidateValues(values url.Values, rules map[string]string) Errors {
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	v := NewValidator()
	for _, field := range fields {
		value := values.Get(field)
		v.applyRules(field, parseRules(rules[field]), func(r rule) {
			v.applyString(field, value, r, values.Get)
		})
	}
	return v.Errors()
}

// ValidateStruct 按 `validate` 标签校验结构体，字段名取 json 标签，
// 嵌套结构体递归校验。s 不是结构体时 panic。
func ValidateStruct(s any) Errors {
	v := NewValidator()
	v.validateStruct(reflect.ValueOf(s), "")
	return v.Errors()
}

func (v *Validator) validateStruct(val reflect.Value, prefix string) {
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		panic("validation: 参数必须是结构体")
	}
	typ := val.Type()
	strs := make(map[string]string, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		if f := val.Field(i); f.Kind() == reflect.String && typ.Field(i).IsExported() {
			strs[prefix+fieldName(typ.Field(i))] = f.String()
		}
	}
	lookup := func(name string) string { return strs[name] }

	for i := 0; i < val.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		field := val.Field(i)
		name := prefix + fieldName(sf)
		if field.Kind() == reflect.Struct {
			v.validateStruct(field, name+".")
			continue
		}
		tag := sf.Tag.Get("validate")
		if tag == "" {
			continue
		}
		v.applyRules(name, parseTag(tag), func(r rule) {
			v.applyValue(name, field, r, lookup)
		})
	}
}

func (v *Validator) applyValue(name string, field reflect.Value, r rule, lookup func(string) string) {
	switch field.Kind() {
	case reflect.String:
		v.applyString(name, field.String(), r, lookup)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.applyNumber(name, field.Int(), r)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.applyNumber(name, int64(field.Uint()), r)
	case reflect.Bool:
		if r.name == "required" || r.name == "accepted" {
			v.Check(field.Bool(), name, fmt.Sprintf("The %s must be accepted.", name))
		}
	case reflect.Slice, reflect.Array, reflect.Map:
		v.applyLen(name, field.Len(), r)
	}
}

func (v *Validator) applyNumber(name string, n int64, r rule) {
	switch r.name {
	case "min":
		v.Check(n >= int64(r.intParam(0)), name, fmt.Sprintf("The %s must be at least %d.", name, r.intParam(0)))
	case "max":
		v.Check(n <= int64(r.intParam(0)), name, fmt.Sprintf("The %s may not be greater than %d.", name, r.intParam(0)))
	case "between":
		v.IntRange(n, int64(r.intParam(0)), int64(r.intParam(1)), name)
	}
}

func (v *Validator) applyLen(name string, n int, r rule) {
	switch r.name {
	case "required":
		v.Check(n > 0, name, fmt.Sprintf("The %s field is required.", name))
	case "min":
		v.Check(n >= r.intParam(0), name, fmt.Sprintf("The %s must have at least %d items.", name, r.intParam(0)))
	case "max":
		v.Check(n <= r.intParam(0), name, fmt.Sprintf("The %s may not have more than %d items.", name, r.intParam(0)))
	}
}

func fieldName(sf reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		if name, _, _ := strings.Cut(sf.Tag.Get(key), ","); name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(sf.Name)
}
