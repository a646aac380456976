package mutations

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/reloquent/evolve/internal/db"
	"github.com/reloquent/evolve/internal/signature"
)

func testProject(t *testing.T) *signature.ProjectSignature {
	t.Helper()

	modelSig := signature.NewModelSignature("M", "app_m")
	modelSig.PKColumn = "id"
	modelSig.MarkUniqueTogetherApplied()
	modelSig.AddFieldSig(signature.NewFieldSignature("id", signature.AutoField).
		SetAttr("primary_key", true))
	modelSig.AddFieldSig(signature.NewFieldSignature("name", signature.CharField).
		SetAttr("max_length", 100))

	appSig := signature.NewAppSignature("app")
	appSig.AddModelSig(modelSig)

	projectSig := signature.NewProjectSignature()
	projectSig.AddAppSig(appSig)

	return projectSig
}

func testEnv(t *testing.T) (*signature.ProjectSignature, *Simulation, *AppMutator) {
	t.Helper()

	ops, err := db.Ops("postgres")
	if err != nil {
		t.Fatal(err)
	}

	projectSig := testProject(t)
	sim := &Simulation{
		AppLabel:   "app",
		ProjectSig: projectSig,
		Database:   "default",
		Ops:        ops,
	}

	return projectSig, sim, NewAppMutator("app", projectSig, "default", ops)
}

func TestAddFieldHint(t *testing.T) {
	m := &AddField{
		Model:     "M",
		Name:      "nickname",
		FieldType: signature.CharField,
		Attrs:     map[string]any{"max_length": 50, "null": true},
	}

	want := "AddField('M', 'nickname', 'CharField', max_length=50, null=True)"
	if got := m.Hint(); got != want {
		t.Errorf("Hint = %q, want %q", got, want)
	}
}

func TestChangeFieldHintAlwaysCarriesInitial(t *testing.T) {
	m := &ChangeField{
		Model: "M",
		Name:  "name",
		Attrs: map[string]any{"null": true},
	}

	want := "ChangeField('M', 'name', initial=None, null=True)"
	if got := m.Hint(); got != want {
		t.Errorf("Hint = %q, want %q", got, want)
	}
}

func TestChangeMetaHintRendersTogetherTuples(t *testing.T) {
	m := &ChangeMeta{
		Model: "M",
		Prop:  "unique_together",
		Value: [][]string{{"a", "b"}},
	}

	want := "ChangeMeta('M', 'unique_together', [('a', 'b')])"
	if got := m.Hint(); got != want {
		t.Errorf("Hint = %q, want %q", got, want)
	}
}

func TestHintParseRoundTrip(t *testing.T) {
	hints := []string{
		"AddField('M', 'nickname', 'CharField', max_length=50, null=True)",
		"AddField('M', 'author', 'ForeignKey', null=True, related_model='app.Author')",
		"ChangeField('M', 'name', initial=None, max_length=200)",
		"DeleteField('M', 'name')",
		"RenameField('M', 'nickname', 'alias')",
		"RenameField('M', 'nickname', 'alias', db_column='alias_col')",
		"RenameModel('M', 'N', db_table='app_n')",
		"DeleteModel('M')",
		"DeleteApplication()",
		"ChangeMeta('M', 'unique_together', [('a', 'b'), ('c',)])",
	}

	for _, hint := range hints {
		mutation, err := ParseMutation(hint)
		if err != nil {
			t.Errorf("ParseMutation(%q): %v", hint, err)
			continue
		}

		if got := mutation.Hint(); got != hint {
			t.Errorf("round trip = %q, want %q", got, hint)
		}
	}
}

func TestParseMutationRejectsSQLMutation(t *testing.T) {
	_, err := ParseMutation("SQLMutation('custom')")
	if err == nil || !strings.Contains(err.Error(), ".sql evolution file") {
		t.Errorf("err = %v, want hint-form rejection", err)
	}
}

func TestParseMutationRejectsUnknownMutation(t *testing.T) {
	if _, err := ParseMutation("CreateIndex('M', 'name')"); err == nil {
		t.Error("expected an error for an unknown mutation")
	}
}

func TestAddFieldThenRenameField(t *testing.T) {
	_, sim, mutator := testEnv(t)

	err := mutator.RunMutations([]Mutation{
		&AddField{
			Model:     "M",
			Name:      "nickname",
			FieldType: signature.CharField,
			Attrs:     map[string]any{"max_length": 50, "null": true},
		},
		&RenameField{Model: "M", OldName: "nickname", NewName: "alias"},
	}, sim)
	if err != nil {
		t.Fatal(err)
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "app_m" ADD COLUMN "nickname" varchar(50);`,
		`ALTER TABLE "app_m" RENAME COLUMN "nickname" TO "alias";`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}

	modelSig := sim.ProjectSig.AppSig("app").ModelSig("M")
	if modelSig.FieldSig("alias") == nil || modelSig.FieldSig("nickname") != nil {
		t.Error("expected the simulated field to be renamed to alias")
	}

	if !mutator.CanSimulate() {
		t.Error("expected the mutator to remain simulatable")
	}
}

func TestAddFieldWithInitialDropsDefault(t *testing.T) {
	_, sim, mutator := testEnv(t)

	err := mutator.RunMutation(&AddField{
		Model:     "M",
		Name:      "score",
		FieldType: signature.IntegerField,
		Initial:   0,
	}, sim)
	if err != nil {
		t.Fatal(err)
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`ALTER TABLE "app_m" ADD COLUMN "score" integer DEFAULT 0 NOT NULL;`,
		`ALTER TABLE "app_m" ALTER COLUMN "score" DROP DEFAULT;`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}
}

func TestAddFieldDuplicateFails(t *testing.T) {
	_, sim, mutator := testEnv(t)

	err := mutator.RunMutations([]Mutation{
		&AddField{
			Model:     "M",
			Name:      "name",
			FieldType: signature.CharField,
			Attrs:     map[string]any{"max_length": 100, "null": true},
		},
	}, sim)

	var simErr *SimulationError
	if err == nil || !errors.As(err, &simErr) {
		t.Errorf("err = %v, want *SimulationError", err)
	}
}

func TestAddFieldNonNullRequiresInitial(t *testing.T) {
	_, sim, _ := testEnv(t)

	m := &AddField{
		Model:     "M",
		Name:      "count",
		FieldType: signature.IntegerField,
	}

	err := m.Simulate(sim)
	if err == nil || !strings.Contains(err.Error(), "initial value") {
		t.Errorf("err = %v, want initial value requirement", err)
	}

	if m.IsMutable(sim) {
		t.Error("expected the mutation to be immutable without an initial value")
	}
}

func TestAddFieldRejectsPlaceholderInitial(t *testing.T) {
	_, _, mutator := testEnv(t)

	m := &AddField{
		Model:     "M",
		Name:      "count",
		FieldType: signature.IntegerField,
		Initial:   UserValuePlaceholder{},
	}

	err := m.Mutate(mutator)
	if err == nil || !strings.Contains(err.Error(), "user-specified") {
		t.Errorf("err = %v, want placeholder rejection", err)
	}
}

func TestDeleteFieldPrimaryKeyFails(t *testing.T) {
	_, sim, mutator := testEnv(t)

	err := mutator.RunMutations([]Mutation{
		&DeleteField{Model: "M", Name: "id"},
	}, sim)

	if err == nil || !strings.Contains(err.Error(), "primary key") {
		t.Errorf("err = %v, want primary key protection", err)
	}
}

func TestDeleteFieldStripsUniqueTogether(t *testing.T) {
	projectSig, sim, mutator := testEnv(t)

	modelSig := projectSig.AppSig("app").ModelSig("M")
	modelSig.AddFieldSig(signature.NewFieldSignature("rank", signature.IntegerField).
		SetAttr("null", true))
	modelSig.UniqueTogether = [][]string{{"name", "rank"}, {"rank"}}

	err := mutator.RunMutations([]Mutation{
		&DeleteField{Model: "M", Name: "rank"},
	}, sim)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]string{{"name"}}
	if !reflect.DeepEqual(modelSig.UniqueTogether, want) {
		t.Errorf("unique_together = %v, want %v", modelSig.UniqueTogether, want)
	}
}

func TestChangeFieldUnsupportedAttr(t *testing.T) {
	_, sim, _ := testEnv(t)

	m := &ChangeField{
		Model: "M",
		Name:  "name",
		Attrs: map[string]any{"primary_key": true},
	}

	err := m.Simulate(sim)

	var notImpl *NotImplementedError
	if err == nil || !errors.As(err, &notImpl) {
		t.Errorf("err = %v, want *NotImplementedError", err)
	}
}

func TestChangeFieldSkipsNoOpAttrs(t *testing.T) {
	_, sim, mutator := testEnv(t)

	err := mutator.RunMutations([]Mutation{
		&ChangeField{
			Model: "M",
			Name:  "name",
			Attrs: map[string]any{"max_length": 100},
		},
	}, sim)
	if err != nil {
		t.Fatal(err)
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	if len(sql) != 0 {
		t.Errorf("sql = %q, want no statements for a no-op change", sql)
	}
}

func TestRenameModelRewritesRelations(t *testing.T) {
	projectSig, sim, mutator := testEnv(t)

	otherModel := signature.NewModelSignature("Comment", "other_comment")
	otherModel.PKColumn = "id"
	fkSig := signature.NewFieldSignature("target", signature.ForeignKey)
	fkSig.RelatedModel = "app.M"
	otherModel.AddFieldSig(fkSig)

	otherApp := signature.NewAppSignature("other")
	otherApp.AddModelSig(otherModel)
	projectSig.AddAppSig(otherApp)

	err := mutator.RunMutations([]Mutation{
		&RenameModel{OldName: "M", NewName: "N", DBTable: "app_n"},
	}, sim)
	if err != nil {
		t.Fatal(err)
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{`ALTER TABLE "app_m" RENAME TO "app_n";`}
	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}

	appSig := projectSig.AppSig("app")
	if appSig.ModelSig("N") == nil || appSig.ModelSig("M") != nil {
		t.Error("expected the model signature to be renamed")
	}

	if got := fkSig.RelatedModel; got != "app.N" {
		t.Errorf("related_model = %q, want app.N", got)
	}
}

func TestDeleteModelDropsJoinTables(t *testing.T) {
	projectSig, sim, mutator := testEnv(t)

	modelSig := projectSig.AppSig("app").ModelSig("M")
	tags := signature.NewFieldSignature("tags", signature.ManyToManyField)
	tags.RelatedModel = "app.Tag"
	modelSig.AddFieldSig(tags)

	err := mutator.RunMutations([]Mutation{&DeleteModel{Name: "M"}}, sim)
	if err != nil {
		t.Fatal(err)
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		`DROP TABLE "app_m_tags";`,
		`DROP TABLE "app_m";`,
	}

	if !reflect.DeepEqual(sql, want) {
		t.Errorf("sql = %q, want %q", sql, want)
	}

	if projectSig.AppSig("app").ModelSig("M") != nil {
		t.Error("expected the model signature to be removed")
	}
}

func TestDeleteApplicationTolerant(t *testing.T) {
	ops, err := db.Ops("postgres")
	if err != nil {
		t.Fatal(err)
	}

	emptySig := signature.NewProjectSignature()
	sim := &Simulation{
		AppLabel:   "ghost",
		ProjectSig: emptySig,
		Database:   "default",
		Ops:        ops,
	}

	mutator := NewAppMutator("ghost", emptySig, "default", ops)
	if err := mutator.RunMutation(&DeleteApplication{}, sim); err != nil {
		t.Errorf("unexpected error for a missing application: %v", err)
	}
}

func TestSQLMutationCannotSimulate(t *testing.T) {
	_, sim, mutator := testEnv(t)

	m := &SQLMutation{
		Tag: "custom",
		SQL: []string{"UPDATE app_m SET name = 'x';"},
	}

	if err := mutator.RunMutation(m, sim); err != nil {
		t.Fatal(err)
	}

	if mutator.CanSimulate() {
		t.Error("expected CanSimulate to be false after a raw SQL mutation")
	}

	sql, err := mutator.SQL()
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(sql, m.SQL) {
		t.Errorf("sql = %q, want %q", sql, m.SQL)
	}

	if !m.IsMutable(sim) {
		t.Error("raw SQL mutations are always mutable")
	}
}

func TestSQLMutationWithCallbackSimulates(t *testing.T) {
	_, sim, mutator := testEnv(t)

	m := &SQLMutation{
		Tag: "add-flag",
		SQL: []string{`ALTER TABLE "app_m" ADD COLUMN "flag" boolean NULL;`},
		SimulateFunc: func(sim *Simulation) error {
			modelSig, err := sim.ModelSig("M")
			if err != nil {
				return err
			}

			modelSig.AddFieldSig(signature.NewFieldSignature("flag",
				signature.BooleanField).SetAttr("null", true))
			return nil
		},
	}

	if err := mutator.RunMutation(m, sim); err != nil {
		t.Fatal(err)
	}

	if !mutator.CanSimulate() {
		t.Error("expected the callback to keep the mutation simulatable")
	}

	if sim.ProjectSig.AppSig("app").ModelSig("M").FieldSig("flag") == nil {
		t.Error("expected the callback to update the signature")
	}
}

func TestHintedMutationsFromDiff(t *testing.T) {
	oldSig := testProject(t)
	newSig := oldSig.Clone()

	modelSig := newSig.AppSig("app").ModelSig("M")
	modelSig.AddFieldSig(signature.NewFieldSignature("count",
		signature.IntegerField))
	modelSig.FieldSig("name").SetAttr("max_length", 200)

	diff := newSig.Diff(oldSig)
	hinted := HintedMutations(diff, oldSig, newSig)

	appMutations, ok := hinted["app"]
	if !ok || len(appMutations) != 2 {
		t.Fatalf("hinted = %+v, want two mutations for app", hinted)
	}

	wantHints := []string{
		"AddField('M', 'count', 'IntegerField', initial=<<USER VALUE REQUIRED>>)",
		"ChangeField('M', 'name', initial=None, max_length=200)",
	}

	for i, mutation := range appMutations {
		if got := mutation.Hint(); got != wantHints[i] {
			t.Errorf("hint[%d] = %q, want %q", i, got, wantHints[i])
		}
	}
}
