// Package validation 校验表单与 JSON 请求数据
package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	alphaRegexp     = regexp.MustCompile(`^[a-zA-Z]+$`)
	alphaNumRegexp  = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	alphaDashRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Errors 按字段收集错误信息，保持每个字段内的顺序
type Errors map[string][]string

func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

func (e Errors) Has(field string) bool {
	return len(e[field]) > 0
}

// First 返回字段的第一条错误
func (e Errors) First(field string) string {
	if msgs := e[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(f)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e[f], ", "))
	}
	return sb.String()
}

// Validator 逐条检查并累积错误
type Validator struct {
	errors Errors
}

func NewValidator() *Validator {
	return &Validator{errors: make(Errors)}
}

func (v *Validator) Valid() bool {
	return len(v.errors) == 0
}

// Errors 没有错误时返回 nil
func (v *Validator) Errors() Errors {
	if v.Valid() {
		return nil
	}
	return v.errors
}

func (v *Validator) AddError(field, message string) {
	v.errors.Add(field, message)
}

// Check ok 为 false 时记录错误
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.AddError(field, message)
	}
}

func (v *Validator) Required(value, field string) {
	v.Check(strings.TrimSpace(value) != "", field, fmt.Sprintf("The %s field is required.", field))
}

func (v *Validator) MinLength(value string, min int, field string) {
	v.Check(utf8.RuneCountInString(value) >= min, field,
		fmt.Sprintf("The %s must be at least %d characters.", field, min))
}

func (v *Validator) MaxLength(value string, max int, field string) {
	v.Check(utf8.RuneCountInString(value) <= max, field,
		fmt.Sprintf("The %s may not be greater than %d characters.", field, max))
}

func (v *Validator) Between(value string, min, max int, field string) {
	n := utf8.RuneCountInString(value)
	v.Check(n >= min && n <= max, field,
		fmt.Sprintf("The %s must be between %d and %d characters.", field, min, max))
}

// 以下规则对空值不做检查，是否必填由 Required 决定

func (v *Validator) Email(value, field string) {
	if value == "" {
		return
	}
	addr, err := mail.ParseAddress(value)
	v.Check(err == nil && addr.Address == value, field,
		fmt.Sprintf("The %s must be a valid email address.", field))
}

func (v *Validator) URL(value, field string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	v.Check(err == nil && u.Scheme != "" && u.Host != "", field,
		fmt.Sprintf("The %s format is invalid.", field))
}

func (v *Validator) Alpha(value, field string) {
	if value == "" {
		return
	}
	v.Check(alphaRegexp.MatchString(value), field,
		fmt.Sprintf("The %s may only contain letters.", field))
}

func (v *Validator) Alphanumeric(value, field string) {
	if value == "" {
		return
	}
	v.Check(alphaNumRegexp.MatchString(value), field,
		fmt.Sprintf("The %s may only contain letters and numbers.", field))
}

func (v *Validator) AlphaDash(value, field string) {
	if value == "" {
		return
	}
	v.Check(alphaDashRegexp.MatchString(value), field,
		fmt.Sprintf("The %s may only contain letters, numbers, dashes and underscores.", field))
}

func (v *Validator) Numeric(value, field string) {
	if value == "" {
		return
	}
	_, err := strconv.ParseFloat(value, 64)
	v.Check(err == nil, field, fmt.Sprintf("The %s must be a number.", field))
}

func (v *Validator) Integer(value, field string) {
	if value == "" {
		return
	}
	_, err := strconv.Atoi(value)
	v.Check(err == nil, field, fmt.Sprintf("The %s must be an integer.", field))
}

func (v *Validator) InList(value string, list []string, field string) {
	if value == "" {
		return
	}
	for _, item := range list {
		if value == item {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("The selected %s is invalid.", field))
}

func (v *Validator) StartsWith(value string, prefixes []string, field string) {
	if value == "" {
		return
	}
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("The %s must start with one of the following: %s.",
		field, strings.Join(prefixes, ", ")))
}

func (v *Validator) EndsWith(value string, suffixes []string, field string) {
	if value == "" {
		return
	}
	for _, s := range suffixes {
		if strings.HasSuffix(value, s) {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("The %s must end with one of the following: %s.",
		field, strings.Join(suffixes, ", ")))
}

// Confirmed 要求 value 与确认字段的值相同
func (v *Validator) Confirmed(value, confirmation, field string) {
	v.Check(value == confirmation, field, fmt.Sprintf("The %s confirmation does not match.", field))
}

func (v *Validator) IntRange(value, min, max int64, field string) {
	v.Check(value >= min && value <= max, field,
		fmt.Sprintf("The %s must be between %d and %d.", field, min, max))
}
