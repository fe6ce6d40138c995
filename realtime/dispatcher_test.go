package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/services"
)

type dispatchFixture struct {
	hub        *Hub
	dispatcher *Dispatcher
	store      *services.MemoryStore
	conn       *Conn
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	return newDispatchFixtureWithLimiter(t, NewLimiter(LimiterConfig{Capacity: 1000, RefillRate: 1000}))
}

func newDispatchFixtureWithLimiter(t *testing.T, limiter *Limiter) *dispatchFixture {
	t.Helper()
	hub := NewHub(64)
	store := services.NewMemoryStore()
	dispatcher := NewDispatcher(
		hub,
		limiter,
		NewIdempotencyCache(5*time.Minute),
		NewCaller(CallerConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond, Deadline: time.Second}),
		store.Registry(),
		DispatcherConfig{MaxBatchSize: 5},
	)
	return &dispatchFixture{
		hub:        hub,
		dispatcher: dispatcher,
		store:      store,
		conn:       hub.Register(testIdentity()),
	}
}

func mustData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatchPing(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: CmdPing, RequestID: "r1"})
	assert.True(t, result.Success)
	assert.Equal(t, CmdPing, result.CommandType)
	assert.Equal(t, "r1", result.RequestID)
}

func TestDispatchUnknownType(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: "drop_tables"})
	require.False(t, result.Success)
	assert.Equal(t, CodeMalformed, result.Error.Code)
}

func TestDispatchCreateProject(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdCreateProject,
		Data: mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"}),
	})
	require.True(t, result.Success)

	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Apollo", projects[0].Name)
}

func TestDispatchValidationFailureBeforeService(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdCreateProject,
		Data: mustData(t, services.CreateProject{Name: "", Key: "APL"}),
	})
	require.False(t, result.Success)
	assert.Equal(t, CodeValidation, result.Error.Code)

	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestDispatchDomainErrorSurfaced(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdDeleteProject,
		Data: mustData(t, map[string]any{"id": uuid.New()}),
	})
	require.False(t, result.Success)
	assert.Equal(t, services.CodeNotFound, result.Error.Code)
}

func TestDispatchIdempotentReplayExecutesOnce(t *testing.T) {
	f := newDispatchFixture(t)

	cmd := Command{
		Type:           CmdCreateProject,
		IdempotencyKey: "create-apollo",
		Data:           mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"}),
	}

	first := f.dispatcher.Dispatch(context.Background(), f.conn, cmd)
	require.True(t, first.Success)

	second := f.dispatcher.Dispatch(context.Background(), f.conn, cmd)
	assert.Equal(t, first, second)

	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestDispatchThrottled(t *testing.T) {
	f := newDispatchFixtureWithLimiter(t, NewLimiter(LimiterConfig{Capacity: 1, RefillRate: 0.001}))

	first := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: CmdPing})
	require.True(t, first.Success)

	second := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: CmdPing})
	require.False(t, second.Success)
	assert.Equal(t, CodeThrottled, second.Error.Code)
	assert.Greater(t, second.Error.RetryAfterMS, int64(0))
}

func TestDispatchMutationPublishesEvent(t *testing.T) {
	f := newDispatchFixture(t)

	subscriber := f.hub.Register(testIdentity())
	recvEvent(t, f.conn) // join of subscriber
	f.hub.Subscribe(subscriber.ID, []string{TopicIssues})

	project := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdCreateProject,
		Data: mustData(t, services.CreateProject{Name: "Apollo", Key: "APL"}),
	})
	require.True(t, project.Success)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdCreateIssue,
		Data: mustData(t, map[string]any{
			"project_id": projectID(t, f),
			"title":      "First issue",
		}),
	})
	require.True(t, result.Success)

	evt := recvEvent(t, subscriber)
	assert.Equal(t, "issue_created", evt.MessageType)
}

func TestDispatchQueryDoesNotPublish(t *testing.T) {
	f := newDispatchFixture(t)

	subscriber := f.hub.Register(testIdentity())
	recvEvent(t, f.conn) // join of subscriber
	f.hub.Subscribe(subscriber.ID, []string{TopicProjects, TopicIssues, TopicLabels, TopicTeams})

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: CmdQueryProjects})
	require.True(t, result.Success)

	assertNoFrame(t, subscriber)
}

func TestDispatchSubscribeAndConnectionInfo(t *testing.T) {
	f := newDispatchFixture(t)

	result := f.dispatcher.Dispatch(context.Background(), f.conn, Command{
		Type: CmdSubscribe,
		Data: mustData(t, map[string]any{"topics": []string{TopicProjects}}),
	})
	require.True(t, result.Success)

	info := f.dispatcher.Dispatch(context.Background(), f.conn, Command{Type: CmdGetConnectionInfo})
	require.True(t, info.Success)
	connInfo, ok := info.Data.(ConnInfo)
	require.True(t, ok)
	assert.Equal(t, f.conn.ID, connInfo.ConnectionID)
	assert.Equal(t, []string{TopicProjects}, connInfo.Subscriptions)
}

func projectID(t *testing.T, f *dispatchFixture) uuid.UUID {
	t.Helper()
	projects, err := f.store.Registry().Projects.Query(context.Background(), services.ProjectFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, projects)
	return projects[0].ID
}
