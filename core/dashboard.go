package core

import "fmt"

// Money is an amount in minor units (cents).
type Money int64

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign, m = "-", -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, int64(m)/100, int64(m)%100)
}

// MarshalText renders the decimal form so JSON carries "5240.50", not cents.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Account is a display-only account line on the dashboard.
type Account struct {
	Number   string `json:"number"`
	Type     string `json:"type"`
	Balance  Money  `json:"balance"`
	Currency string `json:"currency"`
}

// DashboardSummary is what the dashboard shows for a user.
type DashboardSummary struct {
	Username     string    `json:"username"`
	TotalBalance Money     `json:"total_balance"`
	Currency     string    `json:"currency"`
	Accounts     []Account `json:"accounts"`
}

// demoAccounts is placeholder data; there is no ledger behind the dashboard.
var demoAccounts = []Account{
	{Number: "****1234", Type: "checking", Balance: 524050, Currency: "USD"},
	{Number: "****5678", Type: "savings", Balance: 1289075, Currency: "USD"},
}

// DashboardFor returns the placeholder dashboard for user.
func DashboardFor(user User) DashboardSummary {
	accounts := make([]Account, len(demoAccounts))
	copy(accounts, demoAccounts)
	var total Money
	for _, a := range accounts {
		total += a.Balance
	}
	return DashboardSummary{
		Username:     user.Username,
		TotalBalance: total,
		Currency:     "USD",
		Accounts:     accounts,
	}
}
