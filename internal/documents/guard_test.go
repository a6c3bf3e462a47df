package documents

import (
	"testing"

	"trafficcore/testutil"
)

func TestDocumentsStayDecoupledFromLedger(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.CoreImportForbidden, testutil.LedgerImportForbidden),
		"documents render resolved challans and must not reach the service or a ledger")
}
