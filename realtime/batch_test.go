package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/services"
)

func TestBatchAllOrNothingRejectsOnInvalidItem(t *testing.T) {
	f := newDispatchFixture(t)

	req := BatchRequest{
		Mode: BatchAllOrNothing,
		Commands: []Command{
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"})},
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "", Key: "BAD"})},
		},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), f.conn, req)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, CodeValidation, r.Error.Code)
	}

	// Zero mutations applied, including the structurally valid item
	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestBatchAllOrNothingExecutesWhenAllValid(t *testing.T) {
	f := newDispatchFixture(t)

	req := BatchRequest{
		Mode: BatchAllOrNothing,
		Commands: []Command{
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"})},
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "Borealis", Key: "BOR"})},
		},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), f.conn, req)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}

func TestBatchBestEffortContinuesPastFailures(t *testing.T) {
	f := newDispatchFixture(t)

	req := BatchRequest{
		Mode: BatchBestEffort,
		Commands: []Command{
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "", Key: "BAD"})},
			{Type: CmdCreateProject, Data: mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"})},
		},
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), f.conn, req)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)

	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestBatchSizeLimit(t *testing.T) {
	f := newDispatchFixture(t) // limit 5

	commands := make([]Command, 6)
	for i := range commands {
		commands[i] = Command{Type: CmdPing}
	}

	results := f.dispatcher.ExecuteBatch(context.Background(), f.conn, BatchRequest{
		Mode:     BatchBestEffort,
		Commands: commands,
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, CodeBatchLimit, results[0].Error.Code)
}

func TestBatchEmptyAndUnknownMode(t *testing.T) {
	f := newDispatchFixture(t)

	results := f.dispatcher.ExecuteBatch(context.Background(), f.conn, BatchRequest{Mode: BatchBestEffort})
	require.Len(t, results, 1)
	assert.Equal(t, CodeValidation, results[0].Error.Code)

	results = f.dispatcher.ExecuteBatch(context.Background(), f.conn, BatchRequest{
		Mode:     "sometimes",
		Commands: []Command{{Type: CmdPing}},
	})
	require.Len(t, results, 1)
	assert.Equal(t, CodeValidation, results[0].Error.Code)
}
