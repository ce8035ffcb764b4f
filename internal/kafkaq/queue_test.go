package kafkaq

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

type item struct {
	K string `json:"k"`
	N int    `json:"n"`
}

func keyOf(it item) string { return it.K }

func TestQueue_ProducesJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	got := make(chan item, 1)
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var it item
		if err := json.Unmarshal(b, &it); err != nil {
			return err
		}
		got <- it
		return nil
	})

	q := New(prod, "t", 4, keyOf, nil)
	require.True(t, q.Offer(item{K: "a", N: 7}))

	select {
	case it := <-got:
		require.Equal(t, item{K: "a", N: 7}, it)
	case <-time.After(time.Second):
		t.Fatal("item not produced")
	}
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	require.False(t, q.Offer(item{K: "late"}), "closed queue refuses items")
}

func TestQueue_ProducerErrorsAreDrained(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputAndFail(errors.New("broker gone"))
	prod.ExpectInputAndSucceed()

	q := New(prod, "t", 4, keyOf, nil)
	q.Offer(item{K: "a"})
	q.Offer(item{K: "b"})
	require.NoError(t, q.Close())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	// no pump: the queue fills up deterministically
	q := &Queue[item]{topic: "t", prod: prod, keyOf: keyOf, items: make(chan item, 1), stopped: make(chan struct{})}

	require.True(t, q.Offer(item{K: "a"}))
	done := make(chan bool)
	go func() { done <- q.Offer(item{K: "b"}) }()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Offer blocked on a full queue")
	}
	require.Len(t, q.items, 1)
	require.NoError(t, prod.Close())
}
