package config

import (
	"fmt"
	"reflect"
)

// MergeConfig 合并配置
// - dst 和 src 都为 nil 时返回错误
// - dst 为 nil 返回 src，src 为 nil 返回 dst
// - 否则 src 中的非零值覆盖 dst 中的对应字段，返回合并后的 dst
//
// 用于在默认配置的基础上叠加用户配置，保证部分配置也能正常工作。
func MergeConfig[T any](dst, src *T) (*T, error) {
	if dst == nil && src == nil {
		return nil, fmt.Errorf("%w: both dst and src are nil", ErrNilConfig)
	}
	if dst == nil {
		return src, nil
	}
	if src == nil {
		return dst, nil
	}

	if err := mergeValue(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}
	return dst, nil
}

// mergeValue 递归合并 src 到 dst，src 的零值不覆盖
func mergeValue(dst, src reflect.Value) error {
	if !src.IsValid() || src.IsZero() {
		return nil
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			if !src.Type().Field(i).IsExported() {
				continue
			}
			if err := mergeValue(dst.Field(i), src.Field(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Ptr:
		if src.Kind() != reflect.Ptr {
			return fmt.Errorf("kind mismatch: %s vs %s", dst.Kind(), src.Kind())
		}
		if dst.IsNil() {
			if dst.CanSet() {
				dst.Set(src)
			}
			return nil
		}
		return mergeValue(dst.Elem(), src.Elem())

	case reflect.Map:
		if dst.IsNil() {
			if dst.CanSet() {
				dst.Set(reflect.MakeMap(dst.Type()))
			}
		}
		iter := src.MapRange()
		for iter.Next() {
			dst.SetMapIndex(iter.Key(), iter.Value())
		}
		return nil

	case reflect.Slice:
		// 切片整体替换，不做逐元素合并
		if dst.CanSet() {
			dst.Set(src)
		}
		return nil

	default:
		if dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
