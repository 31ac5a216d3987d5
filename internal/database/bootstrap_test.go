package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortObjectsOrdersDependenciesFirst(t *testing.T) {
	objects := []SchemaObject{
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	}

	ordered, err := sortObjects(objects)
	require.NoError(t, err)

	position := make(map[string]int, len(ordered))
	for i, obj := range ordered {
		position[obj.Name] = i
	}
	assert.Less(t, position["a"], position["b"])
	assert.Less(t, position["b"], position["c"])
}

func TestSortObjectsDetectsCycle(t *testing.T) {
	objects := []SchemaObject{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	_, err := sortObjects(objects)
	assert.Error(t, err)
}

func TestSortObjectsDetectsMissingDependency(t *testing.T) {
	objects := []SchemaObject{
		{Name: "a", DependsOn: []string{"ghost"}},
	}

	_, err := sortObjects(objects)
	assert.Error(t, err)
}

func TestSchemaRegistrySorts(t *testing.T) {
	ordered, err := sortObjects(schemaObjects)
	require.NoError(t, err)
	require.Len(t, ordered, len(schemaObjects))

	position := make(map[string]int, len(ordered))
	for i, obj := range ordered {
		position[obj.Name] = i
	}
	for _, obj := range schemaObjects {
		for _, dep := range obj.DependsOn {
			assert.Less(t, position[dep], position[obj.Name],
				"%s must be created before %s", dep, obj.Name)
		}
	}
}

func TestSchemaRegistrySeedsExist(t *testing.T) {
	for _, obj := range schemaObjects {
		if obj.Seed == nil {
			continue
		}
		data, err := seedFiles.ReadFile("seed/" + obj.Seed.File)
		require.NoError(t, err, "seed file for %s", obj.Seed.Table)
		assert.NotEmpty(t, data)
	}
}
