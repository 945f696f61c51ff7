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

func TestDefineAttributes(t *testing.T) {
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name")
		b.Attributes("age", "height")
	})

	assert.Equal(t, []string{"name", "age", "height"}, def.Attributes())
	assert.True(t, def.HasAttribute("age"))
	assert.False(t, def.HasAttribute("monthly_pay"))
}

func TestDefineEmbedsMany(t *testing.T) {
	taskForm := form.Define("task", taskType, nil)

	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsMany("employees", b.Self())
		b.EmbedsMany("tasks", taskForm)
	})

	assocs := def.Associations()
	require.Len(t, assocs, 2)
	assert.Equal(t, "employees", assocs[0].Name)
	assert.Equal(t, "tasks", assocs[1].Name)

	employees, ok := def.Association("employees")
	require.True(t, ok)
	assert.Equal(t, entity.Many, employees.Cardinality)
	assert.Same(t, def, employees.Definition)

	tasks, _ := def.Association("tasks")
	assert.Equal(t, entity.Many, tasks.Cardinality)
	assert.Same(t, taskForm, tasks.Definition)
}

func TestDefineInlineForm(t *testing.T) {
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsMany("employees", form.Inline(func(b *form.Builder) {
			b.Attributes("name")
		}))
	})

	a, ok := def.Association("employees")
	require.True(t, ok)
	assert.NotSame(t, def, a.Definition)
	assert.Equal(t, []string{"name"}, a.Definition.Attributes())
	assert.Empty(t, a.Definition.Name())
	assert.Empty(t, def.Attributes())
}

func TestDefineSharedInlineForm(t *testing.T) {
	shared := form.Inline(func(b *form.Builder) {
		b.Attributes("name")
	})
	employee := form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsMany("employees", shared)
	})
	task := form.Define("task", taskType, func(b *form.Builder) {
		b.EmbedsOne("employee", shared)
	})

	a, _ := employee.Association("employees")
	b, _ := task.Association("employee")
	assert.Same(t, shared, a.Definition)
	assert.Same(t, shared, b.Definition)
	assert.Empty(t, shared.Name())
	assert.Equal(t, "employee", employee.Name())
	assert.Equal(t, "task", task.Name())
}

func TestDefineEmbedsOne(t *testing.T) {
	taskForm := form.Define("task", taskType, nil)
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.EmbedsOne("employee", b.Self())
		b.EmbedsOne("task", taskForm)
		b.EmbedsOne("task", taskForm, form.AsParent())
	})

	assocs := def.Associations()
	require.Len(t, assocs, 2)
	assert.Equal(t, "employee", assocs[0].Name)
	assert.Equal(t, "task", assocs[1].Name)
	assert.Equal(t, entity.One, assocs[1].Cardinality)
	assert.True(t, assocs[1].Parent, "redeclaration replaces the association")
}

func TestDefineExtend(t *testing.T) {
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name")
	})
	taskForm := form.Define("task", taskType, nil)

	assert.Same(t, def, def.Extend(func(b *form.Builder) {
		b.Attributes("monthly_pay").EmbedsOne("task", taskForm)
	}))
	assert.Same(t, def, def.Extend(nil))

	assert.Equal(t, []string{"name", "monthly_pay"}, def.Attributes())
	task, ok := def.Association("task")
	require.True(t, ok)
	assert.Same(t, taskForm, task.Definition)
}

func TestAssignAttributes(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns attributes", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("name", "monthly_pay")
		})
		leader := &Employee{Name: "Leader"}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{"name": "new name", "monthly_pay": 10_000}))

		assert.Equal(t, "new name", leader.Name)
		assert.Equal(t, 10_000, leader.MonthlyPay)
	})

	t.Run("doesn't assign attributes that are not accepted", func(t *testing.T) {
		def := form.Define("employee", employeeType, nil)
		leader := &Employee{Name: "Leader"}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{"name": "new name", "monthlyPay": 5}))

		assert.Equal(t, "Leader", leader.Name)
		assert.Zero(t, leader.MonthlyPay)
	})

	t.Run("doesn't assign attributes that are not passed", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("name")
		})
		leader := &Employee{Name: "Leader"}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{}))

		assert.Equal(t, "Leader", leader.Name)
	})

	t.Run("converts camel case to underscore notation", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("monthly_pay")
		})
		leader := &Employee{}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{"monthlyPay": 10_000}))

		assert.Equal(t, 10_000, leader.MonthlyPay)
	})

	t.Run("coerces decoded json numbers", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("monthly_pay", "height")
		})
		leader := &Employee{}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{"monthlyPay": float64(2500), "height": 1.8}))

		assert.Equal(t, 2500, leader.MonthlyPay)
		assert.InDelta(t, 1.8, leader.Height, 1e-9)
	})

	t.Run("rejects fractional numbers for int fields", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("age")
		})
		leader := &Employee{Age: 40}
		err := form.New(def, leader).Assign(ctx, form.Document{"age": 1.9})

		var tm *errors.TypeMismatchError
		require.True(t, errors.As(err, &tm), "got %v", err)
		assert.Equal(t, "age", tm.Path)
		assert.Equal(t, 40, leader.Age)
	})

	t.Run("parses decimal strings", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("age", "rank")
		})
		leader := &Employee{}
		require.NoError(t, form.New(def, leader).Assign(ctx, form.Document{"age": float64(30), "rank": "010"}))

		assert.Equal(t, 30, leader.Age)
		assert.Equal(t, 10, leader.Rank)

		err := form.New(def, leader).Assign(ctx, form.Document{"rank": "0x10"})
		assert.True(t, errors.IsTypeMismatch(err), "got %v", err)
	})

	t.Run("rejects documents for scalar attributes", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.Attributes("name")
		})
		err := form.New(def, &Employee{}).Assign(ctx, form.Document{"name": map[string]any{"first": "x"}})

		require.Error(t, err)
		assert.True(t, errors.IsTypeMismatch(err))
	})

	t.Run("logs dropped keys", func(t *testing.T) {
		captured := logging.NewTestLogger(t)
		lctx := logging.WithLogger(ctx, captured.Logger)

		def := form.Define("employee", employeeType, nil)
		require.NoError(t, form.New(def, &Employee{}).Assign(lctx, form.Document{"salary": 1}))

		captured.AssertContains(t, "Dropped unassignable key")
		captured.AssertContains(t, `"key":"salary"`)
	})
}

func TestAssignWhitelist(t *testing.T) {
	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name")
	})

	docs := []form.Document{
		{"monthly_pay": 1, "age": 2, "rank": 3},
		{"employees": []any{map[string]any{"name": "x"}}},
		{"task": map[string]any{"title": "x"}},
		{"id": 99},
	}
	for _, doc := range docs {
		leader := &Employee{Name: "Leader", MonthlyPay: 7}
		require.NoError(t, form.New(def, leader).Assign(context.Background(), doc))

		assert.Equal(t, &Employee{Name: "Leader", MonthlyPay: 7}, leader)
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	leader := newLeader(t, store, "first", "second")

	def := form.Define("employee", employeeType, func(b *form.Builder) {
		b.Attributes("name", "monthly_pay")
		b.EmbedsMany("employees", b.Self())
	})
	doc := form.Document{
		"name":      "Boss",
		"employees": []any{map[string]any{"id": leader.Employees[1].ID, "name": "kept"}, map[string]any{"id": 40, "name": "new"}},
	}

	f := form.New(def, leader, form.WithStore(store))
	require.NoError(t, f.Assign(ctx, doc))
	require.NoError(t, f.Assign(ctx, doc))

	assert.Equal(t, "Boss", leader.Name)
	require.Len(t, leader.Employees, 3)
	assert.Equal(t, []string{"first", "kept", "new"}, names(leader.Employees))
	assert.True(t, leader.Employees[0].MarkedForRemoval())
	assert.False(t, leader.Employees[1].MarkedForRemoval())
	assert.False(t, leader.Employees[2].MarkedForRemoval())
}

func TestFormAccessors(t *testing.T) {
	store := newStore(t)
	cfg := form.Config{"k": "v"}
	def := form.Define("employee", employeeType, nil)
	e := &Employee{}

	f := form.New(def, e, form.WithConfig(cfg), form.WithStore(store))
	assert.Same(t, def, f.Definition())
	assert.Same(t, e, f.Entity())
	assert.Equal(t, "v", f.Config()["k"])
	assert.Same(t, store, f.Store())

	bare := form.New(def, e, form.WithConfig(nil))
	assert.NotNil(t, bare.Config())
	assert.Nil(t, bare.Store())
}

func TestAssignMisconfiguredAssociation(t *testing.T) {
	ctx := context.Background()

	t.Run("relation missing on entity", func(t *testing.T) {
		def := form.Define("task", taskType, func(b *form.Builder) {
			b.EmbedsMany("subtasks", b.Self())
		})
		err := form.New(def, &Task{}).Assign(ctx, form.Document{"subtasks": []any{}})
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("cardinality mismatch", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.EmbedsOne("employees", b.Self())
		})
		err := form.New(def, &Employee{}).Assign(ctx, form.Document{"employees": map[string]any{}})
		require.Error(t, err)
		assert.True(t, errors.IsConfigError(err))
		assert.Contains(t, err.Error(), "declared one but relation is many")
	})

	t.Run("association without form", func(t *testing.T) {
		def := form.Define("employee", employeeType, func(b *form.Builder) {
			b.EmbedsOne("task", nil)
		})
		err := form.New(def, &Employee{}).Assign(ctx, form.Document{"task": map[string]any{}})
		assert.True(t, errors.IsConfigError(err))
	})

	t.Run("no definition", func(t *testing.T) {
		err := form.New(nil, &Employee{}).Assign(ctx, form.Document{})
		assert.True(t, errors.IsConfigError(err))
	})
}
