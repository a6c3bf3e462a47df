package domain

import (
	"testing"

	"trafficcore/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain layer free of
// implementation packages so ledgers and adapters can depend on it.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain must stay implementation-free")
}
