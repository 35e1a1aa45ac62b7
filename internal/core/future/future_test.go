package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_CompletesOnce(t *testing.T) {
	f := New[int]()
	assert.False(t, f.IsCompleted())

	assert.True(t, f.SetSuccess(1))
	assert.False(t, f.SetSuccess(2))
	assert.False(t, f.SetFailed(errors.New("late")))

	v, err := f.Result()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, f.IsSuccess())
}

func TestFuture_ConcurrentCompletion(t *testing.T) {
	f := New[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok := false
			if i%2 == 0 {
				ok = f.SetSuccess(i)
			} else {
				ok = f.SetFailed(errors.New("x"))
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestFuture_ListenerOrder(t *testing.T) {
	f := New[string]()
	var order []int
	f.AddListener(func(*Future[string]) { order = append(order, 1) })
	f.AddListener(func(f *Future[string]) {
		order = append(order, 2)
		// 通知期间注册的监听者排在队尾
		f.AddListener(func(*Future[string]) { order = append(order, 4) })
	})
	f.AddListener(func(*Future[string]) { order = append(order, 3) })

	f.SetSuccess("ok")
	assert.Equal(t, []int{1, 2, 3, 4}, order)

	f.AddListener(func(*Future[string]) { order = append(order, 5) })
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestFuture_DoneClosedBeforeListeners(t *testing.T) {
	f := New[int]()
	f.AddListener(func(f *Future[int]) {
		select {
		case <-f.Done():
		default:
			t.Error("done channel still open inside listener")
		}
	})
	f.SetFailed(errors.New("boom"))
}

func TestFuture_Await(t *testing.T) {
	f := New[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.SetSuccess(7)
	}()
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = New[int]().Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAll(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.True(t, All[struct{}]().IsSuccess())
	})

	t.Run("success", func(t *testing.T) {
		a, b := NewDone(), NewDone()
		all := All(a, b)
		Complete(a)
		assert.False(t, all.IsCompleted())
		Complete(b)
		assert.True(t, all.IsSuccess())
	})

	t.Run("combined errors", func(t *testing.T) {
		e1, e2 := errors.New("one"), errors.New("two")
		all := All(DoneFailed(e1), DoneSucceeded(), DoneFailed(e2))
		require.True(t, all.IsCompleted())
		assert.ErrorIs(t, all.Err(), e1)
		assert.ErrorIs(t, all.Err(), e2)
	})
}
