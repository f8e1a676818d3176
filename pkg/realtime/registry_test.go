package realtime

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestRegistryOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	var calls []string
	record := func(name string) Handler {
		return func(Message) { calls = append(calls, name) }
	}

	r.subscribe([]string{"alarm"}, record("first"))
	same := record("dup")
	unsubDup1 := r.subscribe([]string{"alarm"}, same)
	r.subscribe([]string{"alarm"}, same)
	r.subscribe([]string{"alarm"}, record("last"))

	for _, reg := range r.snapshot("alarm") {
		reg.fn(Message{Type: "alarm"})
	}
	require.Equal(t, []string{"first", "dup", "dup", "last"}, calls)

	unsubDup1()
	unsubDup1()
	require.Equal(t, 3, r.count("alarm"), "only the returned registration is removed, once")
}

func TestRegistrySubscribeMultiple(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	unsub := r.subscribe([]string{"alarm", "pong"}, func(Message) {})
	require.Equal(t, 1, r.count("alarm"))
	require.Equal(t, 1, r.count("pong"))

	unsub()
	require.Zero(t, r.count("alarm"))
	require.Zero(t, r.count("pong"))
}

func TestObserversRemoval(t *testing.T) {
	t.Parallel()

	var o observers[int]
	var got []int
	remove := o.add(func(v int) { got = append(got, v) })
	o.add(func(v int) { got = append(got, -v) })

	for _, fn := range o.snapshot() {
		fn(1)
	}
	remove()
	remove()
	for _, fn := range o.snapshot() {
		fn(2)
	}
	require.Equal(t, []int{1, -1, -2}, got)
}

// registryOp is one step of a generated subscribe/unsubscribe sequence.
type registryOp struct {
	Subscribe bool
	Index     int
}

func TestRegistryMatchesModelProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	genOp := gopter.CombineGens(gen.Bool(), gen.IntRange(0, 15)).Map(func(v []any) registryOp {
		return registryOp{Subscribe: v[0].(bool), Index: v[1].(int)}
	})

	properties.Property("invocation order equals surviving registration order", prop.ForAll(
		func(ops []registryOp) bool {
			r := newRegistry()

			type live struct {
				id    int
				unsub func()
			}
			var model []live
			var fired []int
			nextID := 0

			for _, op := range ops {
				if op.Subscribe || len(model) == 0 {
					id := nextID
					nextID++
					unsub := r.subscribe([]string{"t"}, func(Message) { fired = append(fired, id) })
					model = append(model, live{id: id, unsub: unsub})
					continue
				}
				i := op.Index % len(model)
				model[i].unsub()
				model[i].unsub()
				model = append(model[:i], model[i+1:]...)
			}

			for _, reg := range r.snapshot("t") {
				reg.fn(Message{Type: "t"})
			}
			if len(fired) != len(model) {
				return false
			}
			for i := range model {
				if fired[i] != model[i].id {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genOp),
	))

	properties.TestingRun(t)
}
