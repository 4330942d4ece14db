package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KarsMulder/evsieve/internal/pipeline"

	ev "github.com/KarsMulder/evsieve"
)

const evKey = 0x01

func TestPropagateMapAddsDestinationCode(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := pipeline.NewTransformStage(
		ev.SelectorSet{{TypeName: "key", Type: evKey, HasCode: true, Code: 30, Value: ev.AnyValue()}},
		[]ev.OutputTemplate{{TypeName: "key", Type: evKey, HasCode: true, Code: 40}},
		false, false, domains,
	)

	in := NewSet()
	in.Add(evKey, 30)

	out := Propagate([]pipeline.Stage{stage}, in)

	assert.False(t, out.Has(evKey, 30))
	assert.True(t, out.Has(evKey, 40))
}

func TestPropagateBlockRemoves(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := &pipeline.BlockStage{Src: ev.SelectorSet{{TypeName: "key", Type: evKey, HasCode: true, Code: 30, Value: ev.AnyValue()}}, Domains: domains}

	in := NewSet()
	in.Add(evKey, 30)
	in.Add(evKey, 31)

	out := Propagate([]pipeline.Stage{stage}, in)

	assert.False(t, out.Has(evKey, 30))
	assert.True(t, out.Has(evKey, 31))
}

func TestFilterRestrictsToSelector(t *testing.T) {
	caps := NewSet()
	caps.Add(evKey, 30)
	caps.Add(evKey, 31)

	sel := ev.SelectorSet{{TypeName: "key", Type: evKey, HasCode: true, Code: 30, Value: ev.AnyValue()}}
	out := Filter(caps, sel)

	assert.True(t, out.Has(evKey, 30))
	assert.False(t, out.Has(evKey, 31))
}
