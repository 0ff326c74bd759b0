package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/reelforge/orchestrator/pkg/model"
)

func TestWeightedOrder_HigherWeightServedMoreOften(t *testing.T) {
	d := &Dispatcher{credits: make(map[uuid.UUID]float64)}

	heavy := uuid.New()
	light := uuid.New()
	byChannel := map[uuid.UUID]model.Channel{
		heavy: {ID: heavy, ChannelID: "heavy", PriorityWeight: 3},
		light: {ID: light, ChannelID: "light", PriorityWeight: 1},
	}
	claimable := []uuid.UUID{heavy, light}

	heavyFirstCount := 0
	const rounds = 8
	for i := 0; i < rounds; i++ {
		order := d.weightedOrder(claimable, byChannel)
		assert.Len(t, order, 2)
		if order[0] == heavy {
			heavyFirstCount++
		}
	}

	assert.GreaterOrEqual(t, heavyFirstCount, rounds/2,
		"a 3x-weighted channel should be served first at least half the rounds")
}

func TestWeightedOrder_SkipsChannelsNotInRegistry(t *testing.T) {
	d := &Dispatcher{credits: make(map[uuid.UUID]float64)}
	known := uuid.New()
	unknown := uuid.New()
	byChannel := map[uuid.UUID]model.Channel{
		known: {ID: known, ChannelID: "known", PriorityWeight: 1},
	}

	order := d.weightedOrder([]uuid.UUID{known, unknown}, byChannel)
	assert.Equal(t, []uuid.UUID{known}, order)
}

func TestWeightedOrder_EmptyInputReturnsNil(t *testing.T) {
	d := &Dispatcher{credits: make(map[uuid.UUID]float64)}
	order := d.weightedOrder(nil, map[uuid.UUID]model.Channel{})
	assert.Nil(t, order)
}
