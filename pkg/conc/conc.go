// Package conc 提供带类型结果的后台任务工具，统一封装 goroutine 的
// 启动、结果回收与资源释放，底层使用 ants 协程池。
package conc

import (
	"github.com/panjf2000/ants/v2"
)

// Future 持有一个后台任务的结果，Await 阻塞直到任务完成
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Await 等待任务完成并返回结果
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.value, f.err
}

// Go 启动一个后台任务并返回 Future
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

// Pool 固定容量的任务池，Submit 的任务在池内 worker 上执行
type Pool[T any] struct {
	inner *ants.Pool
}

// NewPool 创建任务池，size 为并发 worker 数
func NewPool[T any](size int) *Pool[T] {
	inner, err := ants.NewPool(size)
	if err != nil {
		// size 非法时 ants 返回错误，回退到单 worker
		inner, _ = ants.NewPool(1)
	}
	return &Pool[T]{inner: inner}
}

// Submit 提交任务，返回持有结果的 Future
// 池已释放时返回错误
func (p *Pool[T]) Submit(fn func() (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	err := p.inner.Submit(func() {
		defer close(f.done)
		f.value, f.err = fn()
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Release 释放任务池
func (p *Pool[T]) Release() {
	p.inner.Release()
}
