package kit

// Option 以函数式选项修改 *T
type Option[T any] func(t *T)

// Apply 依次应用选项
func Apply[T any](t *T, opts ...Option[T]) {
	for _, opt := range opts {
		opt(t)
	}
}

// OptionErr 是可能失败的选项
type OptionErr[T any] func(t *T) error

// ApplyErr 依次应用选项，遇到第一个错误即返回
func ApplyErr[T any](t *T, opts ...OptionErr[T]) error {
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return err
		}
	}
	return nil
}
