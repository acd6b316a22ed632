package server

import "time"

// Operator is the person running the server binary. The session lives as
// long as the Server it was passed to.
type Operator struct {
	Account    string
	LoggedInAt time.Time
}

// NewOperator starts an operator session for account.
func NewOperator(account string) *Operator {
	return &Operator{Account: account, LoggedInAt: time.Now()}
}

// Anonymous reports whether no operator account was configured.
func (o *Operator) Anonymous() bool {
	return o == nil || o.Account == ""
}
