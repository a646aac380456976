package models

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/reloquent/evolve/internal/signature"
)

const blogModels = `app: blog
models:
  - name: Author
    fields:
      - name: name
        type: CharField
        max_length: 50
  - name: Post
    db_table: blog_entries
    unique_together:
      - [author, title]
    fields:
      - name: title
        type: CharField
        max_length: 100
      - name: author
        type: ForeignKey
        related: blog.Author
      - name: published
        type: BooleanField
`

func TestParseModels(t *testing.T) {
	appSig, err := Parse([]byte(blogModels))
	if err != nil {
		t.Fatal(err)
	}

	if appSig.AppID != "blog" {
		t.Errorf("AppID = %q, want blog", appSig.AppID)
	}

	authorSig := appSig.ModelSig("Author")
	if authorSig == nil {
		t.Fatal("missing Author model")
	}

	if authorSig.TableName != "blog_author" {
		t.Errorf("Author table = %q, want blog_author", authorSig.TableName)
	}

	// The implicit primary key comes first.
	fieldSigs := authorSig.FieldSigs()
	if len(fieldSigs) != 2 || fieldSigs[0].FieldName != "id" {
		t.Fatalf("Author fields = %+v, want implicit id first", fieldSigs)
	}

	if fieldSigs[0].Type != signature.AutoField ||
		!fieldSigs[0].BoolAttr("primary_key") {
		t.Errorf("implicit id = %+v, want AutoField primary key", fieldSigs[0])
	}

	if authorSig.PKColumn != "id" {
		t.Errorf("PKColumn = %q, want id", authorSig.PKColumn)
	}

	postSig := appSig.ModelSig("Post")
	if postSig.TableName != "blog_entries" {
		t.Errorf("Post table = %q, want blog_entries", postSig.TableName)
	}

	if want := [][]string{{"author", "title"}}; !reflect.DeepEqual(postSig.UniqueTogether, want) {
		t.Errorf("unique_together = %v, want %v", postSig.UniqueTogether, want)
	}

	if !postSig.UniqueTogetherApplied() {
		t.Error("model file signatures always count as applied")
	}

	authorField := postSig.FieldSig("author")
	if authorField.RelatedModel != "blog.Author" {
		t.Errorf("related = %q, want blog.Author", authorField.RelatedModel)
	}

	if got := authorField.Attr("db_column"); got != "author_id" {
		t.Errorf("db_column = %v, want author_id", got)
	}
}

func TestParseRejectsUnknownFieldType(t *testing.T) {
	_, err := Parse([]byte(`app: blog
models:
  - name: Post
    fields:
      - name: location
        type: GeometryField
`))

	if err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("err = %v, want unknown type error", err)
	}
}

func TestParseRejectsRelationWithoutTarget(t *testing.T) {
	_, err := Parse([]byte(`app: blog
models:
  - name: Post
    fields:
      - name: author
        type: ForeignKey
`))

	if err == nil || !strings.Contains(err.Error(), "related model") {
		t.Errorf("err = %v, want related model error", err)
	}
}

func TestParseRejectsDuplicatePrimaryKeys(t *testing.T) {
	_, err := Parse([]byte(`app: blog
models:
  - name: Post
    fields:
      - name: a
        type: AutoField
        primary_key: true
      - name: b
        type: AutoField
        primary_key: true
`))

	if err == nil || !strings.Contains(err.Error(), "more than one") {
		t.Errorf("err = %v, want duplicate primary key error", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "blog.yaml"), blogModels)
	writeFile(t, filepath.Join(dir, "shop.yaml"), `app: shop
models:
  - name: Order
    fields:
      - name: total
        type: DecimalField
        max_digits: 8
        decimal_places: 2
`)

	projectSig, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	appSigs := projectSig.AppSigs()
	if len(appSigs) != 2 || appSigs[0].AppID != "blog" || appSigs[1].AppID != "shop" {
		t.Fatalf("apps = %+v, want [blog shop] in file order", appSigs)
	}

	total := projectSig.AppSig("shop").ModelSig("Order").FieldSig("total")
	if got := total.Attr("max_digits"); got != 8 {
		t.Errorf("max_digits = %v, want 8", got)
	}
}

func TestLoadDirRejectsDuplicateApps(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.yaml"), blogModels)
	writeFile(t, filepath.Join(dir, "b.yaml"), blogModels)

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "more than one model file") {
		t.Errorf("err = %v, want duplicate app error", err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
