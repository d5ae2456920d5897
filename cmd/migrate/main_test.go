package main

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"

	appmigrations "github.com/wolfman30/medspa-booking/migrations"
)

type recordingMigrator struct {
	calls []string
	upErr error
}

func (r *recordingMigrator) Up() error {
	r.calls = append(r.calls, "up")
	return r.upErr
}

func (r *recordingMigrator) Steps(n int) error {
	r.calls = append(r.calls, "steps")
	if n >= 0 {
		return errors.New("expected negative steps")
	}
	return nil
}

func (r *recordingMigrator) Force(version int) error {
	r.calls = append(r.calls, "force")
	return nil
}

func TestRunDispatchesCommands(t *testing.T) {
	cases := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{args: nil, want: "up"},
		{args: []string{"up"}, want: "up"},
		{args: []string{"down", "1"}, want: "steps"},
		{args: []string{"force", "3"}, want: "force"},
		{args: []string{"down"}, wantErr: true},
		{args: []string{"down", "0"}, wantErr: true},
		{args: []string{"force", "x"}, wantErr: true},
		{args: []string{"sideways"}, wantErr: true},
	}
	for _, tc := range cases {
		m := &recordingMigrator{}
		err := run(m, tc.args)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%v: expected error", tc.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: unexpected error %v", tc.args, err)
			continue
		}
		if len(m.calls) != 1 || m.calls[0] != tc.want {
			t.Errorf("%v: expected %s, got %v", tc.args, tc.want, m.calls)
		}
	}
}

func TestRunTreatsNoChangeAsSuccess(t *testing.T) {
	if err := run(&recordingMigrator{upErr: migrate.ErrNoChange}, nil); err != nil {
		t.Fatalf("expected ErrNoChange to be ignored, got %v", err)
	}
	if err := run(&recordingMigrator{upErr: errors.New("boom")}, nil); err == nil {
		t.Fatalf("expected up failure to surface")
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	names, err := fs.Glob(appmigrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups, downs := 0, 0
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups++
		case strings.HasSuffix(n, ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired up/down migrations, got %d up and %d down", ups, downs)
	}

	schema, err := fs.ReadFile(appmigrations.FS, "000001_appointments.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{"appointments_no_overlap", "appointments_payment_uniq", "btree_gist"} {
		if !strings.Contains(string(schema), want) {
			t.Errorf("expected %s in appointments migration", want)
		}
	}
}
