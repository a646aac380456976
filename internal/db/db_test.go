package db

import (
	"reflect"
	"strings"
	"testing"

	"github.com/reloquent/evolve/internal/signature"
)

func postModel() *signature.ModelSignature {
	modelSig := signature.NewModelSignature("Post", "blog_post")
	modelSig.PKColumn = "id"
	modelSig.AddFieldSig(signature.NewFieldSignature("id", signature.AutoField).
		SetAttr("primary_key", true))
	modelSig.AddFieldSig(signature.NewFieldSignature("title", signature.CharField).
		SetAttr("max_length", 100))

	return modelSig
}

func mustOps(t *testing.T, dialect string) EvolutionOperations {
	t.Helper()

	ops, err := Ops(dialect)
	if err != nil {
		t.Fatal(err)
	}

	return ops
}

func TestOpsUnknownDialect(t *testing.T) {
	_, err := Ops("oracle")
	if err == nil || !strings.Contains(err.Error(), "unsupported database dialect") {
		t.Errorf("err = %v, want unsupported dialect error", err)
	}
}

func TestDialectsRegistered(t *testing.T) {
	if got := Dialects(); !reflect.DeepEqual(got, []string{"mysql", "postgres"}) {
		t.Errorf("Dialects = %v, want [mysql postgres]", got)
	}
}

func TestSessionBracketSQL(t *testing.T) {
	pg := mustOps(t, "postgres")
	if setup := pg.SessionSetupSQL(); len(setup) != 0 {
		t.Errorf("postgres session setup = %q, want none", setup)
	}
	if teardown := pg.SessionTeardownSQL(); len(teardown) != 0 {
		t.Errorf("postgres session teardown = %q, want none", teardown)
	}

	my := mustOps(t, "mysql")
	if got := my.SessionSetupSQL(); !reflect.DeepEqual(got,
		[]string{"SET FOREIGN_KEY_CHECKS=0;"}) {
		t.Errorf("mysql session setup = %q", got)
	}
	if got := my.SessionTeardownSQL(); !reflect.DeepEqual(got,
		[]string{"SET FOREIGN_KEY_CHECKS=1;"}) {
		t.Errorf("mysql session teardown = %q", got)
	}
}

func TestPostgresMergesAdjacentColumnOps(t *testing.T) {
	ops := mustOps(t, "postgres")

	nickname := signature.NewFieldSignature("nickname", signature.CharField).
		SetAttr("max_length", 50).
		SetAttr("null", true)
	score := signature.NewFieldSignature("score", signature.IntegerField)

	sql, err := ops.TableOpsSQL(postModel(), []*Op{
		{Type: OpAddColumn, Field: nickname},
		{Type: OpAddColumn, Field: score, Initial: 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "blog_post" ADD COLUMN "nickname" varchar(50), ` +
			`ADD COLUMN "score" integer DEFAULT 0 NOT NULL;`,
		`ALTER TABLE "blog_post" ALTER COLUMN "score" DROP DEFAULT;`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresAddForeignKeyColumn(t *testing.T) {
	ops := mustOps(t, "postgres")

	author := signature.NewFieldSignature("author", signature.ForeignKey).
		SetAttr("db_column", "author_id").
		SetAttr("null", true)
	author.RelatedModel = "blog.Author"

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:      OpAddColumn,
		Field:     author,
		RefTable:  "blog_author",
		RefColumn: "id",
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "blog_post" ADD COLUMN "author_id" integer ` +
			`REFERENCES "blog_author" ("id") DEFERRABLE INITIALLY DEFERRED;`,
		`CREATE INDEX "blog_post_author_id" ON "blog_post" ("author_id");`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresDeleteColumn(t *testing.T) {
	ops := mustOps(t, "postgres")

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:  OpDeleteColumn,
		Field: signature.NewFieldSignature("title", signature.CharField),
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{`ALTER TABLE "blog_post" DROP COLUMN "title" CASCADE;`}
	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresTightenNullWithInitial(t *testing.T) {
	ops := mustOps(t, "postgres")

	title := signature.NewFieldSignature("title", signature.CharField).
		SetAttr("max_length", 100)

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:     OpChangeColumn,
		Field:    title,
		Initial:  "untitled",
		NewAttrs: map[string]AttrChange{"null": {Old: true, New: false}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`UPDATE "blog_post" SET "title" = 'untitled' WHERE "title" IS NULL;`,
		`ALTER TABLE "blog_post" ALTER COLUMN "title" SET NOT NULL;`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresRenameColumn(t *testing.T) {
	ops := mustOps(t, "postgres")

	title := signature.NewFieldSignature("title", signature.CharField).
		SetAttr("max_length", 100).
		SetAttr("db_column", "headline")

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:     OpChangeColumn,
		Field:    title,
		NewAttrs: map[string]AttrChange{"db_column": {Old: "title", New: "headline"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "blog_post" RENAME COLUMN "title" TO "headline";`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresUniqueTogetherTransition(t *testing.T) {
	ops := mustOps(t, "postgres")

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:     OpChangeMeta,
		Prop:     "unique_together",
		OldValue: [][]string{{"a", "b"}},
		NewValue: [][]string{{"a", "c"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "blog_post" DROP CONSTRAINT "blog_post_a_b_key";`,
		`ALTER TABLE "blog_post" ADD CONSTRAINT "blog_post_a_c_key" UNIQUE ("a", "c");`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestPostgresUnsupportedChangeMeta(t *testing.T) {
	ops := mustOps(t, "postgres")

	if ops.SupportsChangeMeta("db_table") {
		t.Error("db_table should not be a supported change_meta property")
	}

	_, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type: OpChangeMeta,
		Prop: "db_table",
	}})
	if err == nil {
		t.Error("expected an error for an unsupported meta property")
	}
}

func TestPostgresRenameAndDeleteTable(t *testing.T) {
	ops := mustOps(t, "postgres")

	rename := ops.RenameTableSQL("blog_post", "blog_entry")
	if want := []string{`ALTER TABLE "blog_post" RENAME TO "blog_entry";`}; !reflect.DeepEqual(rename, want) {
		t.Errorf("rename sql = %q, want %q", rename, want)
	}

	drop := ops.DeleteTableSQL("blog_post")
	if want := []string{`DROP TABLE "blog_post";`}; !reflect.DeepEqual(drop, want) {
		t.Errorf("drop sql = %q, want %q", drop, want)
	}
}

func TestPostgresAddManyToManyField(t *testing.T) {
	ops := mustOps(t, "postgres")

	tags := signature.NewFieldSignature("tags", signature.ManyToManyField)
	tags.RelatedModel = "blog.Tag"

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:  OpAddColumn,
		Field: tags,
	}})
	if err != nil {
		t.Fatal(err)
	}

	if len(sql) != 1 || !strings.HasPrefix(sql[0], `CREATE TABLE "blog_post_tags" (`) {
		t.Fatalf("sql = %q, want a single CREATE TABLE for blog_post_tags", sql)
	}

	for _, fragment := range []string{
		`"post_id" integer NOT NULL REFERENCES "blog_post" ("id")`,
		`"tag_id" integer NOT NULL REFERENCES "blog_tag" ("id")`,
		`UNIQUE ("post_id", "tag_id")`,
	} {
		if !strings.Contains(sql[0], fragment) {
			t.Errorf("sql %q missing fragment %q", sql[0], fragment)
		}
	}
}

func TestMySQLModifyColumnOnNullChange(t *testing.T) {
	ops := mustOps(t, "mysql")

	title := signature.NewFieldSignature("title", signature.CharField).
		SetAttr("max_length", 100).
		SetAttr("null", true)

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:     OpChangeColumn,
		Field:    title,
		NewAttrs: map[string]AttrChange{"null": {Old: false, New: true}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"ALTER TABLE `blog_post` MODIFY COLUMN `title` varchar(100) NULL;",
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestMySQLRenameTable(t *testing.T) {
	ops := mustOps(t, "mysql")

	sql := ops.RenameTableSQL("blog_post", "blog_entry")
	if want := []string{"RENAME TABLE `blog_post` TO `blog_entry`;"}; !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestMySQLUniqueTogetherUsesIndexes(t *testing.T) {
	ops := mustOps(t, "mysql")

	sql, err := ops.TableOpsSQL(postModel(), []*Op{{
		Type:     OpChangeMeta,
		Prop:     "unique_together",
		OldValue: nil,
		NewValue: [][]string{{"a", "b"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"CREATE UNIQUE INDEX `blog_post_a_b_key` ON `blog_post` (`a`, `b`);",
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestMySQLColumnTypes(t *testing.T) {
	ops := mustOps(t, "mysql")

	tests := []struct {
		fieldType signature.FieldType
		want      string
	}{
		{signature.TextField, "longtext"},
		{signature.DateTimeField, "datetime"},
		{signature.BooleanField, "bool"},
	}

	for _, tt := range tests {
		fieldSig := signature.NewFieldSignature("f", tt.fieldType)

		got, err := ops.ColumnType(fieldSig)
		if err != nil {
			t.Fatal(err)
		}

		if got != tt.want {
			t.Errorf("ColumnType(%s) = %q, want %q", tt.fieldType, got, tt.want)
		}
	}
}

func TestGeneratedIndexNameTruncation(t *testing.T) {
	long := strings.Repeat("verylongtablename", 5)

	name := generatedIndexName(long, []string{"column_one", "column_two"})
	if len(name) > maxNameLength {
		t.Errorf("name %q exceeds %d characters", name, maxNameLength)
	}

	if again := generatedIndexName(long, []string{"column_one", "column_two"}); again != name {
		t.Errorf("index naming not deterministic: %q vs %q", name, again)
	}

	short := generatedIndexName("blog_post", []string{"title"})
	if short != "blog_post_title" {
		t.Errorf("short name = %q, want blog_post_title", short)
	}
}

func TestDecimalColumnType(t *testing.T) {
	ops := mustOps(t, "postgres")

	price := signature.NewFieldSignature("price", signature.DecimalField).
		SetAttr("max_digits", 8).
		SetAttr("decimal_places", 2)

	got, err := ops.ColumnType(price)
	if err != nil {
		t.Fatal(err)
	}

	if got != "numeric(8, 2)" {
		t.Errorf("ColumnType = %q, want numeric(8, 2)", got)
	}

	// Missing precision attributes are an error, not a silent default.
	if _, err := ops.ColumnType(signature.NewFieldSignature("p",
		signature.DecimalField)); err == nil {
		t.Error("expected an error for a DecimalField without max_digits")
	}
}
