package shutdown

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRegistry_OrderAndErrors(t *testing.T) {
	r := NewRegistry()
	var order []string
	add := func(name string, priority int, err error) {
		r.Register(name, priority, func(context.Context) error {
			order = append(order, name)
			return err
		})
	}

	add("database", PriorityStorage, nil)
	add("http", PriorityHTTP, nil)
	add("purge", PriorityCleanup, errors.New("disk gone"))
	add("workers", PriorityQueue, nil)
	add("stale-files", PriorityCleanup, nil)

	wantOrder := []string{"http", "workers", "purge", "stale-files", "database"}
	if got := r.Names(); !reflect.DeepEqual(got, wantOrder) {
		t.Fatalf("Names() = %v, want %v", got, wantOrder)
	}

	errs := r.Run(context.Background())
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("run order = %v, want %v", order, wantOrder)
	}
	if len(errs) != 1 {
		t.Fatalf("Run() returned %d errors, want 1", len(errs))
	}
	if !strings.HasPrefix(errs[0].Error(), "purge: ") {
		t.Errorf("error %q should name the hook", errs[0])
	}
}

func TestRegistry_RunOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("once", 1, func(context.Context) error {
		calls++
		return nil
	})

	r.Run(context.Background())
	r.Run(context.Background())
	r.Register("late", 1, func(context.Context) error { return nil })

	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (registration after Run is ignored)", r.Len())
	}
}
