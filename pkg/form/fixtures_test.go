package form_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/form"
	"github.com/agentstation/formsync/pkg/store/memory"
)

type Employee struct {
	entity.Model
	Name       string      `form:"name"`
	MonthlyPay int         `form:"monthly_pay"`
	Age        int         `form:"age"`
	Height     float64     `form:"height"`
	Rank       int         `form:"rank"`
	Employees  []*Employee `form:"employees"`
	Task       *Task       `form:"task"`
}

func (e *Employee) Validate() error {
	if e.Name == "invalid" {
		return errors.NewValidationError("name", e.Name, "is reserved")
	}
	return nil
}

type Task struct {
	entity.Model
	Title    string    `form:"title"`
	Employee *Employee `form:"employee"`
}

var (
	employeeType = entity.TypeFor[Employee]()
	taskType     = entity.TypeFor[Task]()
)

// suffixName appends the name_suffix option to the employee's name.
func suffixName(_ context.Context, f *form.Form, _ form.Document) error {
	suffix, _ := f.Config()["name_suffix"].(string)
	f.Entity().(*Employee).Name += suffix
	return nil
}

// suffixTitle appends the suffix option to the task's title.
func suffixTitle(_ context.Context, f *form.Form, _ form.Document) error {
	suffix, _ := f.Config()["suffix"].(string)
	f.Entity().(*Task).Title += suffix
	return nil
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	return store
}

// newLeader saves a leader named "Leader" with one subordinate per name.
func newLeader(t *testing.T, store *memory.Store, names ...string) *Employee {
	t.Helper()
	leader := &Employee{Name: "Leader"}
	for _, name := range names {
		leader.Employees = append(leader.Employees, &Employee{Name: name})
	}
	require.NoError(t, store.Save(context.Background(), leader))
	return leader
}

// newTask saves a task with the given title.
func newTask(t *testing.T, store *memory.Store, title string) *Task {
	t.Helper()
	task := &Task{Title: title}
	require.NoError(t, store.Save(context.Background(), task))
	return task
}

func names(employees []*Employee) []string {
	out := make([]string, len(employees))
	for i, e := range employees {
		out[i] = e.Name
	}
	return out
}
