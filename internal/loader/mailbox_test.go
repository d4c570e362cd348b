package loader

import (
	"errors"
	"testing"

	"github.com/favloyalty/widgetbridge/model"
)

func TestMailboxTakeClears(t *testing.T) {
	var m Mailbox
	f := NewIdentityFuture()
	m.Put(f)

	got, ok := m.Take()
	if !ok || got != f {
		t.Fatal("first take must return the parked future")
	}
	if _, ok := m.Take(); ok {
		t.Fatal("second take must find the slot empty")
	}
}

func TestMailboxPutReplaces(t *testing.T) {
	var m Mailbox
	stale := NewIdentityFuture()
	fresh := NewIdentityFuture()
	m.Put(stale)
	m.Put(fresh)

	got, ok := m.Take()
	if !ok || got != fresh {
		t.Fatal("a second put must replace the stale occupant")
	}
}

func TestMailboxClear(t *testing.T) {
	var m Mailbox
	m.Put(NewIdentityFuture())
	m.Clear()
	if _, ok := m.Take(); ok {
		t.Fatal("take after clear must find nothing")
	}
}

func TestIdentityFutureCompletesOnce(t *testing.T) {
	f := NewIdentityFuture()
	select {
	case <-f.Done():
		t.Fatal("future done before completion")
	default:
	}

	f.Complete(model.Resolved("42", "", "test"), nil)
	f.Complete(model.Anonymous(), errors.New("late"))

	<-f.Done()
	id, err := f.Result()
	if err != nil || id.CustomerID != "42" {
		t.Fatalf("result = %+v, %v; want the first completion", id, err)
	}
}
