// Package testutil provides common constants, builders and stubs for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second
)

// Common test values
const (
	// TestQuestion is a basic lookup question
	TestQuestion = "平安银行的股票代码是什么"

	// TestTable is the securities master table
	TestTable = "constantdb.secumain"

	// TestSecuCode is the answer to TestQuestion
	TestSecuCode = "000001"

	// TestSQL answers TestQuestion against the demo store
	TestSQL = "SELECT SecuCode FROM constantdb.secumain WHERE SecuAbbr = '平安银行'"
)
