package repo_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/testutil"
)

// TestMain migrates the shared test database once per test binary.
func TestMain(m *testing.M) {
	if testutil.HasDatabase() {
		if err := testutil.Migrate(context.Background()); err != nil {
			log.Fatalf("TestMain: %v", err)
		}
	}
	os.Exit(m.Run())
}
