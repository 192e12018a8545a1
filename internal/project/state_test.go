package project

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/jobs"
)

func usersDB() interfaces.Interface {
	return interfaces.NewDatabase(interfaces.Database{Name: "users", DBType: "MySql"})
}

func TestInterfaceCRUD(t *testing.T) {
	s := New()
	require.NoError(t, s.AddInterface(usersDB()))
	require.ErrorIs(t, s.AddInterface(usersDB()), ErrInterfaceExists)

	require.NoError(t, s.AddSchema("users", "accounts", "CREATE TABLE accounts();"))
	require.NoError(t, s.AddSchema("users", "accounts", "CREATE TABLE accounts(id int);"))
	require.Equal(t, "CREATE TABLE accounts(id int);", s.Interfaces["users"].Schemas()["accounts"])
	require.ErrorIs(t, s.AddSchema("orders", "x", "y"), ErrInterfaceNotFound)

	require.NoError(t, s.RemoveSchema("users", "accounts"))
	require.ErrorIs(t, s.RemoveSchema("users", "accounts"), ErrSchemaNotFound)

	require.NoError(t, s.RemoveInterface("users"))
	require.ErrorIs(t, s.RemoveInterface("users"), ErrInterfaceNotFound)
}

func TestAddInterfaceRejectsInvalid(t *testing.T) {
	s := New()
	err := s.AddInterface(interfaces.Interface{Type: interfaces.KindAPI})
	if !errors.Is(err, interfaces.ErrInvalid) {
		t.Fatalf("expected interfaces.ErrInvalid, got %v", err)
	}
}

func TestSourceFiles(t *testing.T) {
	s := New()
	s.AddSourceFile("main.rs", "fn main() {}")
	s.AddSourceFile("lib.rs", "pub mod x;")
	require.Equal(t, []string{"lib.rs", "main.rs"}, s.Filenames())
	require.NoError(t, s.RemoveSourceFile("lib.rs"))
	require.ErrorIs(t, s.RemoveSourceFile("lib.rs"), ErrFileNotFound)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.AddInterface(usersDB()))
	require.NoError(t, s.AddSchema("users", "a", "one"))
	s.AddSourceFile("main.rs", "v1")
	id := s.Jobs.NewTodo("main.rs", jobs.CodeGenRequest("main.rs"))

	snap := s.Snapshot()
	require.NoError(t, s.AddSchema("users", "a", "two"))
	s.AddSourceFile("main.rs", "v2")
	_, err := s.Jobs.StartByID(id)
	require.NoError(t, err)

	require.Equal(t, "one", snap.Interfaces["users"].Schemas()["a"])
	require.Equal(t, "v1", snap.Codebase["main.rs"])
	status, ok := snap.Jobs.Locate(id)
	require.True(t, ok)
	require.Equal(t, jobs.StatusTodo, status)
}

func TestPlannerContextCopiesState(t *testing.T) {
	s := New()
	s.SetSpecs("  a todo api  ")
	s.SetScaffold(`{"src":{}}`)
	s.AddSourceFile("main.rs", "fn main() {}")
	pc := s.PlannerContext()
	s.AddSourceFile("main.rs", "changed")
	require.Equal(t, "a todo api", pc.Specs)
	require.Equal(t, "fn main() {}", pc.Codebase["main.rs"])
}
