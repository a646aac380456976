package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/reloquent/evolve/internal/mutations"
)

func writeCatalog(t *testing.T, files map[string]string) *Catalog {
	t.Helper()

	root := t.TempDir()

	for name, contents := range files {
		path := filepath.Join(root, name)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	return New(root)
}

func TestAppsAndSequence(t *testing.T) {
	c := writeCatalog(t, map[string]string{
		"blog/sequence.yaml": "evolutions:\n  - add_nickname\n  - rename_nickname\n",
		"shop/sequence.yaml": "evolutions: []\n",
		"stray/readme.txt":   "not an evolution dir\n",
	})

	apps, err := c.Apps()
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(apps, []string{"blog", "shop"}) {
		t.Errorf("apps = %v, want [blog shop]", apps)
	}

	sequence, err := c.Sequence("blog")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(sequence, []string{"add_nickname", "rename_nickname"}) {
		t.Errorf("sequence = %v, want [add_nickname rename_nickname]", sequence)
	}

	// An app with no catalog entry simply has no evolutions.
	missing, err := c.Sequence("ghost")
	if err != nil || missing != nil {
		t.Errorf("Sequence(ghost) = %v, %v, want nil, nil", missing, err)
	}
}

func TestSequenceRejectsDuplicates(t *testing.T) {
	c := writeCatalog(t, map[string]string{
		"blog/sequence.yaml": "evolutions:\n  - a\n  - a\n",
	})

	_, err := c.Sequence("blog")
	if err == nil || !strings.Contains(err.Error(), "appears twice") {
		t.Errorf("err = %v, want duplicate label error", err)
	}
}

func TestMutationsFromYAML(t *testing.T) {
	c := writeCatalog(t, map[string]string{
		"blog/sequence.yaml": "evolutions:\n  - add_nickname\n",
		"blog/add_nickname.yaml": "mutations:\n" +
			"  - \"AddField('Post', 'nickname', 'CharField', max_length=50, null=True)\"\n",
	})

	loaded, err := c.Mutations("blog", "add_nickname", "postgres")
	if err != nil {
		t.Fatal(err)
	}

	if len(loaded) != 1 {
		t.Fatalf("mutations = %+v, want one", loaded)
	}

	addField, ok := loaded[0].(*mutations.AddField)
	if !ok {
		t.Fatalf("mutation type = %T, want *mutations.AddField", loaded[0])
	}

	if addField.Model != "Post" || addField.Name != "nickname" {
		t.Errorf("parsed mutation = %+v", addField)
	}
}

func TestMutationsFromSQLPrefersDatabaseSpecific(t *testing.T) {
	c := writeCatalog(t, map[string]string{
		"blog/sequence.yaml": "evolutions:\n  - custom\n",
		"blog/custom.sql":    "UPDATE blog_post SET title = 'generic';\n",
		"blog/postgres_custom.sql": "-- only for postgres\n" +
			"UPDATE blog_post\nSET title = 'pg';\n",
	})

	loaded, err := c.Mutations("blog", "custom", "postgres")
	if err != nil {
		t.Fatal(err)
	}

	sqlMutation, ok := loaded[0].(*mutations.SQLMutation)
	if !ok {
		t.Fatalf("mutation type = %T, want *mutations.SQLMutation", loaded[0])
	}

	want := []string{"UPDATE blog_post SET title = 'pg';"}
	if !reflect.DeepEqual(sqlMutation.SQL, want) {
		t.Errorf("sql = %q, want %q", sqlMutation.SQL, want)
	}

	// Another database falls back to the generic file.
	loaded, err = c.Mutations("blog", "custom", "mysql")
	if err != nil {
		t.Fatal(err)
	}

	sqlMutation = loaded[0].(*mutations.SQLMutation)
	want = []string{"UPDATE blog_post SET title = 'generic';"}
	if !reflect.DeepEqual(sqlMutation.SQL, want) {
		t.Errorf("sql = %q, want %q", sqlMutation.SQL, want)
	}
}

func TestMutationsMissingEvolution(t *testing.T) {
	c := writeCatalog(t, map[string]string{
		"blog/sequence.yaml": "evolutions:\n  - ghost\n",
	})

	_, err := c.Mutations("blog", "ghost", "postgres")
	if err == nil ||
		!strings.Contains(err.Error(), "failed to find an SQL or YAML evolution") {
		t.Errorf("err = %v, want missing evolution error", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header\nCREATE TABLE a (\n  id int\n);\n\n" +
		"INSERT INTO a VALUES (1);\n")

	want := []string{
		"CREATE TABLE a ( id int );",
		"INSERT INTO a VALUES (1);",
	}

	// A naive semicolon split keeps multi-line statements on one line.
	if !reflect.DeepEqual(got, want) {
		t.Errorf("statements = %q, want %q", got, want)
	}
}
