package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/safeguard/types"
)

func TestRenderDDL(t *testing.T) {
	cases := []struct {
		name   string
		change types.SchemaChangeOperation
		want   string
	}{
		{
			name: "create table",
			change: types.SchemaChangeOperation{
				Change:     types.SchemaCreateTable,
				Table:      "equipment",
				Definition: map[string]interface{}{"columns": "id SERIAL PRIMARY KEY, name TEXT"},
			},
			want: "CREATE TABLE equipment (id SERIAL PRIMARY KEY, name TEXT)",
		},
		{
			name:   "drop table",
			change: types.SchemaChangeOperation{Change: types.SchemaDropTable, Table: "equipment"},
			want:   "DROP TABLE equipment",
		},
		{
			name: "alter table",
			change: types.SchemaChangeOperation{
				Change:     types.SchemaAlterTable,
				Table:      "jobs",
				Definition: map[string]interface{}{"alter": "ADD COLUMN priority INT"},
			},
			want: "ALTER TABLE jobs ADD COLUMN priority INT",
		},
		{
			name: "create index with default name",
			change: types.SchemaChangeOperation{
				Change:     types.SchemaCreateIndex,
				Table:      "jobs",
				Definition: map[string]interface{}{"columns": "status"},
			},
			want: "CREATE INDEX jobs_idx ON jobs (status)",
		},
		{
			name: "drop index",
			change: types.SchemaChangeOperation{
				Change:     types.SchemaDropIndex,
				Table:      "jobs",
				Definition: map[string]interface{}{"index_name": "jobs_status_idx"},
			},
			want: "DROP INDEX jobs_status_idx",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := renderDDL(&tc.change)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRenderDDLErrors(t *testing.T) {
	cases := []types.SchemaChangeOperation{
		{Change: types.SchemaCreateTable, Table: "t"},
		{Change: types.SchemaAlterTable, Table: "t"},
		{Change: types.SchemaCreateIndex, Table: "t"},
		{Change: types.SchemaDropIndex, Table: "t"},
		{Change: "rename_table", Table: "t"},
	}
	for _, change := range cases {
		_, err := renderDDL(&change)
		require.Error(t, err, "change: %s", change.Change)
	}
}

func TestBusinessHandlerDispatch(t *testing.T) {
	e := NewSQLExecutor(nil, nil)

	var got *types.BusinessOperation
	e.RegisterBusinessHandler("Cancel_Service_Visit", func(_ context.Context, op *types.BusinessOperation, _ types.RequestContext) (json.RawMessage, error) {
		got = op
		return json.RawMessage(`{"cancelled":true}`), nil
	})

	out, err := e.RunBusinessOperation(context.Background(), &types.BusinessOperation{
		Name:   "cancel_service_visit",
		Entity: "jobs",
	}, types.RequestContext{RequestedBy: "agent-1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"cancelled":true}`, string(out))
	require.NotNil(t, got)
	require.Equal(t, "jobs", got.Entity)
}

func TestBusinessHandlerConcurrentRegistration(t *testing.T) {
	e := NewSQLExecutor(nil, nil)
	e.RegisterBusinessHandler("op_0", func(context.Context, *types.BusinessOperation, types.RequestContext) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			e.RegisterBusinessHandler(fmt.Sprintf("op_%d", n), func(context.Context, *types.BusinessOperation, types.RequestContext) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			})
		}(i + 1)
		go func() {
			defer wg.Done()
			_, err := e.RunBusinessOperation(context.Background(), &types.BusinessOperation{Name: "op_0"}, types.RequestContext{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestBusinessHandlerMissing(t *testing.T) {
	e := NewSQLExecutor(nil, nil)

	_, err := e.RunBusinessOperation(context.Background(), &types.BusinessOperation{Name: "unknown_op"},
		types.RequestContext{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handler registered")
}
