package account

import (
	"strings"
	"testing"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/service"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
)

func TestReadPasswordLine(t *testing.T) {
	got, err := readPasswordLine(strings.NewReader("N3w-Portal-Pass\r\nignored\n"))
	if err != nil || got != "N3w-Portal-Pass" {
		t.Fatalf("unexpected password %q err=%v", got, err)
	}
	if got, err := readPasswordLine(strings.NewReader("no-newline")); err != nil || got != "no-newline" {
		t.Fatalf("expected EOF terminated line, got %q err=%v", got, err)
	}
	if _, err := readPasswordLine(strings.NewReader("\n")); err == nil {
		t.Fatal("expected empty password to be rejected")
	}
}

func TestImportDetails(t *testing.T) {
	report := &service.ImportReport{
		Created: []service.ProvisionResult{{Account: &domain.Account{Username: "yuri", Email: "yuri@agri.example.gov"}, TemporaryPassword: "tmp"}},
		Skipped: []service.ImportSkip{{Username: "xena", Email: "xena@agri.example.gov", Reason: "username or email already in use"}},
	}
	details := importDetails(report)
	if len(details) != 3 || details[0] != "created: 1, skipped: 1" {
		t.Fatalf("unexpected details: %v", details)
	}
	if !strings.Contains(details[2], "already in use") {
		t.Fatalf("expected skip reason, got %q", details[2])
	}
}

func TestCommandTree(t *testing.T) {
	cmd := NewCommand(&common.Options{})
	want := map[string]bool{"provision": false, "import": false, "unlock": false, "set-password": false, "list": false}
	for _, c := range cmd.Commands() {
		want[c.Name()] = true
	}
	for name, ok := range want {
		if !ok {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}
