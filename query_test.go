package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFiltering(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	type entitySetup struct {
		components []Component
		count      int
	}

	tests := []struct {
		name            string
		entitySetups    []entitySetup
		build           func(q Query) QueryNode
		expectedMatches int
	}{
		{
			name: "And query matches exact",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp}, 5},
				{[]Component{posComp}, 10},
				{[]Component{velComp}, 15},
			},
			build:           func(q Query) QueryNode { return q.And(posComp, velComp) },
			expectedMatches: 5,
		},
		{
			name: "Or query matches either",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp}, 5},
				{[]Component{posComp}, 10},
				{[]Component{velComp}, 15},
			},
			build:           func(q Query) QueryNode { return q.Or(posComp, velComp) },
			expectedMatches: 30,
		},
		{
			name: "Not query excludes",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp}, 5},
				{[]Component{posComp}, 10},
				{[]Component{velComp}, 15},
				{[]Component{healthComp}, 20},
			},
			build:           func(q Query) QueryNode { return q.Not(velComp) },
			expectedMatches: 30,
		},
		{
			name: "Component slices are flattened",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp, healthComp}, 4},
				{[]Component{posComp, velComp}, 6},
			},
			build:           func(q Query) QueryNode { return q.And([]Component{posComp, healthComp}) },
			expectedMatches: 4,
		},
		{
			name: "Complex query",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp, healthComp}, 5},
				{[]Component{posComp, velComp}, 10},
				{[]Component{posComp, healthComp}, 15},
				{[]Component{velComp, healthComp}, 20},
				{[]Component{posComp}, 25},
				{[]Component{velComp}, 30},
				{[]Component{healthComp}, 35},
			},
			build: func(q Query) QueryNode {
				return q.Or(q.And(posComp, velComp), q.And(posComp, healthComp))
			},
			expectedMatches: 30,
		},
		{
			name: "Not over a child node",
			entitySetups: []entitySetup{
				{[]Component{posComp, velComp}, 5},
				{[]Component{posComp}, 10},
				{[]Component{healthComp}, 20},
			},
			build: func(q Query) QueryNode {
				return q.And(posComp, q.Not(velComp))
			},
			expectedMatches: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sto := newTestStorage(t)
			for _, setup := range tt.entitySetups {
				_, err := sto.NewEntities(setup.count, setup.components...)
				require.NoError(t, err)
			}

			node := tt.build(Factory.NewQuery())
			matches := 0
			for arch := range sto.Archetypes() {
				if node.Evaluate(arch, sto) {
					matches += arch.Len()
				}
			}
			assert.Equal(t, tt.expectedMatches, matches)

			cursor := Factory.NewCursor(node, sto)
			count := 0
			for cursor.Next() {
				count++
			}
			assert.Equal(t, tt.expectedMatches, count)
			assert.False(t, sto.Locked())
		})
	}
}

func TestQueryRootIsFirstNode(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	sto := newTestStorage(t)
	_, err := sto.NewEntities(3, posComp)
	require.NoError(t, err)
	_, err = sto.NewEntities(2, velComp)
	require.NoError(t, err)

	empty := Factory.NewQuery()
	for arch := range sto.Archetypes() {
		assert.False(t, empty.Evaluate(arch, sto))
	}

	q := Factory.NewQuery()
	q.And(posComp)
	q.And(velComp)
	cursor := Factory.NewCursor(q, sto)
	assert.Equal(t, 3, cursor.TotalMatched())
	cursor.Reset()
}
