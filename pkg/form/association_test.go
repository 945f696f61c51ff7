package form_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/form"
	"github.com/agentstation/formsync/pkg/logging"
)

func selfReferencingForm() *form.Definition {
	return form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name")
		b.EmbedsMany("employees", b.Self())
		b.AfterAssign(suffixName)
	})
}

func inlineForm() *form.Definition {
	return form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsMany("employees", form.Inline(func(b *form.Builder) {
			b.Attributes("name")
		}))
	})
}

func TestEmbedsMany(t *testing.T) {
	ctx := context.Background()

	forms := map[string]func() *form.Definition{
		"with another form":  selfReferencingForm,
		"with embedded form": inlineForm,
	}

	for name, build := range forms {
		t.Run(name, func(t *testing.T) {
			t.Run("creates new objects", func(t *testing.T) {
				leader := &Employee{Name: "Leader"}
				require.NoError(t, form.New(build(), leader).Assign(ctx, form.Document{
					"employees": []any{map[string]any{"name": "new employee"}},
				}))

				require.Len(t, leader.Employees, 1)
				assert.Equal(t, "new employee", leader.Employees[0].Name)
				assert.Nil(t, leader.Employees[0].ID)
			})

			t.Run("sets ids for new objects", func(t *testing.T) {
				leader := &Employee{Name: "Leader"}
				require.NoError(t, form.New(build(), leader).Assign(ctx, form.Document{
					"employees": []any{map[string]any{"id": 15, "name": "new employee"}},
				}))

				require.Len(t, leader.Employees, 1)
				assert.Equal(t, 15, leader.Employees[0].ID)
			})

			t.Run("assigns properties to objects", func(t *testing.T) {
				store := newStore(t)
				leader := newLeader(t, store, "Employee")
				existing := leader.Employees[0]

				require.NoError(t, form.New(build(), leader).Assign(ctx, form.Document{
					"employees": []any{map[string]any{"id": existing.ID, "name": "new name"}},
				}))

				require.Len(t, leader.Employees, 1)
				assert.Same(t, existing, leader.Employees[0])
				assert.Equal(t, "new name", leader.Employees[0].Name)
			})
		})
	}

	t.Run("deletes old objects", func(t *testing.T) {
		store := newStore(t)
		leader := newLeader(t, store, "Employee", "Employee 2")

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []any{map[string]any{"id": leader.Employees[1].ID}},
		}))

		require.Len(t, leader.Employees, 2)
		assert.True(t, leader.Employees[0].MarkedForRemoval())
		assert.False(t, leader.Employees[1].MarkedForRemoval())
	})

	t.Run("upserts and prunes by id", func(t *testing.T) {
		leader := &Employee{Employees: []*Employee{{Name: "one"}, {Name: "two"}}}
		leader.Employees[0].ID = 1
		leader.Employees[1].ID = 2

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []any{map[string]any{"id": 2, "name": "x"}},
		}))

		require.Len(t, leader.Employees, 2, "no new child is created")
		assert.True(t, leader.Employees[0].MarkedForRemoval())
		assert.Equal(t, "one", leader.Employees[0].Name)
		assert.False(t, leader.Employees[1].MarkedForRemoval())
		assert.Equal(t, "x", leader.Employees[1].Name)
	})

	t.Run("matches decoded json ids", func(t *testing.T) {
		leader := &Employee{Employees: []*Employee{{Name: "one"}}}
		leader.Employees[0].ID = int64(7)

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []any{map[string]any{"id": float64(7), "name": "seven"}},
		}))

		require.Len(t, leader.Employees, 1)
		assert.Equal(t, "seven", leader.Employees[0].Name)
	})

	t.Run("unset ids never match existing children", func(t *testing.T) {
		leader := &Employee{Employees: []*Employee{{Name: "unsaved"}}}

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
		}))

		require.Len(t, leader.Employees, 3)
		assert.Equal(t, []string{"unsaved", "a", "b"}, names(leader.Employees))
		assert.True(t, leader.Employees[0].MarkedForRemoval())
		assert.False(t, leader.Employees[1].MarkedForRemoval())
		assert.False(t, leader.Employees[2].MarkedForRemoval())
	})

	t.Run("empty sequence marks every child", func(t *testing.T) {
		store := newStore(t)
		leader := newLeader(t, store, "a", "b")

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []any{},
		}))

		for _, e := range leader.Employees {
			assert.True(t, e.MarkedForRemoval())
		}
	})

	t.Run("skips if data is nil", func(t *testing.T) {
		store := newStore(t)
		leader := newLeader(t, store, "Employee")
		existing := leader.Employees[0]

		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{"employees": nil}))

		assert.Equal(t, []*Employee{existing}, leader.Employees)
		assert.Equal(t, "Employee", existing.Name)
		assert.False(t, existing.MarkedForRemoval())
	})

	t.Run("passes options to child forms", func(t *testing.T) {
		leader := &Employee{Name: "Leader"}
		f := form.New(selfReferencingForm(), leader, form.WithConfig(form.Config{"name_suffix": " the great"}))

		require.NoError(t, f.Assign(ctx, form.Document{
			"employees": []any{map[string]any{"name": "new name"}},
		}))

		assert.Equal(t, "new name the great", leader.Employees[0].Name)
	})

	t.Run("accepts typed document slices", func(t *testing.T) {
		leader := &Employee{}
		require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
			"employees": []form.Document{{"name": "typed"}},
		}))

		require.Len(t, leader.Employees, 1)
		assert.Equal(t, "typed", leader.Employees[0].Name)
	})

	t.Run("fires child built hook with positions", func(t *testing.T) {
		var seen []string
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.EmbedsMany("employees", form.Inline(func(b *form.Builder) {
				b.Attributes("name")
			}), form.OnChildBuilt(func(_ context.Context, child entity.Entity, doc form.Document, position int) error {
				child.(*Employee).Rank = position + 1
				seen = append(seen, doc["name"].(string))
				return nil
			}))
		})

		leader := &Employee{}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{
			"employees": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}, map[string]any{"name": "c"}},
		}))

		assert.Equal(t, []string{"a", "b", "c"}, seen)
		assert.Equal(t, []string{"a", "b", "c"}, names(leader.Employees))
		for i, e := range leader.Employees {
			assert.Equal(t, i+1, e.Rank)
		}
	})

	t.Run("child built hook errors stop assignment", func(t *testing.T) {
		hookErr := errors.New("rejected")
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.EmbedsMany("employees", b.Self(), form.OnChildBuilt(func(context.Context, entity.Entity, form.Document, int) error {
				return hookErr
			}))
		})

		err := form.New(def, &Employee{}).Assign(ctx, form.Document{"employees": []any{map[string]any{}}})
		assert.ErrorIs(t, err, hookErr)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		tests := []struct {
			name  string
			value any
			path  string
		}{
			{"scalar instead of sequence", "employees", "employees"},
			{"document instead of sequence", map[string]any{"name": "x"}, "employees"},
			{"scalar element", []any{map[string]any{}, 12}, "employees[1]"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := form.New(selfReferencingForm(), &Employee{}).Assign(ctx, form.Document{"employees": tt.value})

				var tm *errors.TypeMismatchError
				require.True(t, errors.As(err, &tm), "got %v", err)
				assert.Equal(t, tt.path, tm.Path)
			})
		}
	})

	t.Run("reports nested attribute paths", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("monthly_pay")
			b.EmbedsMany("employees", b.Self())
		})

		err := form.New(def, &Employee{}).Assign(ctx, form.Document{
			"employees": []any{map[string]any{}, map[string]any{"monthlyPay": "lots"}},
		})

		var tm *errors.TypeMismatchError
		require.True(t, errors.As(err, &tm), "got %v", err)
		assert.Equal(t, "employees[1].monthly_pay", tm.Path)
	})
}

func taskForm() *form.Definition {
	return form.Define("task", taskType, func(b *form.Builder) {
		b.Attributes("title")
		b.AfterAssign(suffixTitle)
	})
}

func employeeWithTaskForm() *form.Definition {
	tasks := taskForm()
	return form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsOne("task", tasks)
	})
}

func TestEmbedsOne(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new objects", func(t *testing.T) {
		leader := &Employee{Name: "Leader"}
		require.NoError(t, form.New(employeeWithTaskForm(), leader).Assign(ctx, form.Document{
			"task": map[string]any{"title": "new task"},
		}))

		require.NotNil(t, leader.Task)
		assert.Equal(t, "new task", leader.Task.Title)
		assert.Nil(t, leader.Task.ID)
	})

	t.Run("removes associations", func(t *testing.T) {
		leader := &Employee{Name: "Leader"}
		f := form.New(employeeWithTaskForm(), leader)

		require.NoError(t, f.Assign(ctx, form.Document{"task": map[string]any{"title": "new task"}}))
		require.NotNil(t, leader.Task)
		assert.Equal(t, "new task", leader.Task.Title)

		require.NoError(t, f.Assign(ctx, form.Document{"task": nil}))
		assert.Nil(t, leader.Task)
	})

	t.Run("leaves relation untouched when key is absent", func(t *testing.T) {
		task := &Task{Title: "keep"}
		leader := &Employee{Task: task}

		require.NoError(t, form.New(employeeWithTaskForm(), leader).Assign(ctx, form.Document{"name": "ignored"}))
		assert.Same(t, task, leader.Task)
	})

	t.Run("assigns id to new object", func(t *testing.T) {
		leader := &Employee{Name: "Leader"}
		require.NoError(t, form.New(employeeWithTaskForm(), leader, form.WithStore(newStore(t))).Assign(ctx, form.Document{
			"task": map[string]any{"id": 12, "title": "new task"},
		}))

		assert.Equal(t, 12, leader.Task.ID)
		assert.False(t, leader.Task.Persisted())
	})

	t.Run("assigns object that already has been created", func(t *testing.T) {
		store := newStore(t)
		laundry := newTask(t, store, "do laundry")
		leader := &Employee{Name: "Leader"}

		require.NoError(t, form.New(employeeWithTaskForm(), leader, form.WithStore(store)).UpdateAttributes(ctx, form.Document{
			"task": map[string]any{"id": laundry.ID, "title": "new task"},
		}))

		assert.Same(t, laundry, leader.Task)
		assert.Equal(t, "new task", leader.Task.Title)
		assert.Equal(t, 1, store.Count("task"))
	})

	t.Run("changes what task is assigned", func(t *testing.T) {
		store := newStore(t)
		task := newTask(t, store, "task")
		laundry := newTask(t, store, "do laundry")
		leader := &Employee{Name: "Leader", Task: task}

		require.NoError(t, form.New(employeeWithTaskForm(), leader, form.WithStore(store)).Assign(ctx, form.Document{
			"task": map[string]any{"id": laundry.ID},
		}))

		assert.Same(t, laundry, leader.Task)
		assert.Equal(t, "task", task.Title)
	})

	t.Run("re-specifying the same id reassigns", func(t *testing.T) {
		store := newStore(t)
		task := newTask(t, store, "task")
		leader := &Employee{Task: task}

		require.NoError(t, form.New(employeeWithTaskForm(), leader, form.WithStore(store)).Assign(ctx, form.Document{
			"task": map[string]any{"id": task.ID, "title": "again"},
		}))

		assert.Same(t, task, leader.Task)
		assert.Equal(t, "again", task.Title)
	})

	t.Run("passes options to child forms", func(t *testing.T) {
		leader := &Employee{Name: "Leader"}
		f := form.New(employeeWithTaskForm(), leader, form.WithConfig(form.Config{"suffix": " the great"}))

		require.NoError(t, f.Assign(ctx, form.Document{"task": map[string]any{"title": "new title"}}))
		assert.Equal(t, "new title the great", leader.Task.Title)
	})

	t.Run("rejects non-document input", func(t *testing.T) {
		err := form.New(employeeWithTaskForm(), &Employee{}).Assign(ctx, form.Document{"task": []any{}})

		var tm *errors.TypeMismatchError
		require.True(t, errors.As(err, &tm))
		assert.Equal(t, "task", tm.Path)
		assert.Equal(t, "document", tm.Expected)
	})

	t.Run("propagates store failures", func(t *testing.T) {
		storeErr := errors.New("connection reset")
		leader := &Employee{}
		f := form.New(employeeWithTaskForm(), leader, form.WithStore(failingStore{err: storeErr}))

		err := f.Assign(ctx, form.Document{"task": map[string]any{"id": 3}})
		assert.ErrorIs(t, err, storeErr)
	})
}

func TestConfigPropagation(t *testing.T) {
	ctx := context.Background()
	cfg := form.Config{"tenant": "acme"}

	record := func(_ context.Context, f *form.Form, _ form.Document) error {
		f.Config()["visits"] = append(f.Config()["visits"].([]string), f.Config()["tenant"].(string))
		return nil
	}
	cfg["visits"] = []string{}

	tasks := form.Define("task", taskType, func(b *form.Builder) {
		b.Attributes("title")
		b.AfterAssign(record)
	})
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name")
		b.EmbedsMany("employees", b.Self())
		b.EmbedsOne("task", tasks)
		b.AfterAssign(record)
	})

	leader := &Employee{}
	require.NoError(t, form.New(def, leader, form.WithConfig(cfg)).Assign(ctx, form.Document{
		"employees": []any{
			map[string]any{"name": "a", "task": map[string]any{"title": "t"}},
			map[string]any{"name": "b"},
		},
	}))

	// two employees, one task, then the leader itself
	assert.Equal(t, []string{"acme", "acme", "acme", "acme"}, cfg["visits"])
	assert.Equal(t, "acme", cfg["tenant"])
}

type failingStore struct {
	err error
}

func (s failingStore) Find(context.Context, entity.Type, any) (entity.Entity, error) {
	return nil, s.err
}

func (s failingStore) Save(context.Context, entity.Entity) error {
	return s.err
}

func TestReconcileLogFields(t *testing.T) {
	captured := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), captured.Logger)

	store := newStore(t)
	leader := newLeader(t, store, "kept", "gone")
	kept, gone := leader.Employees[0], leader.Employees[1]

	require.NoError(t, form.New(selfReferencingForm(), leader).Assign(ctx, form.Document{
		"employees": []any{map[string]any{"id": kept.ID, "salary": 5}},
	}))

	captured.AssertContains(t, "Dropped unassignable key")
	captured.AssertContains(t, `"association":"employees"`)
	captured.AssertContains(t, `"entity_type":"employee"`)
	captured.AssertContains(t, `"entity_id":"`+entity.FormatID(kept.ID)+`"`)
	captured.AssertContains(t, "Marked child for removal")
	captured.AssertContains(t, `"id":"`+entity.FormatID(gone.ID)+`"`)
}
