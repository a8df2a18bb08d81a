package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatementKindTransaction = "Transaction"
	StatementKindPayment     = "Payment"
)

// StatementItem 对账单条目
// 销售单为负数（欠款），收款为正数（付款），RunningBalance 按时间正序累加
type StatementItem struct {
	Date           time.Time       `json:"date"`
	Kind           string          `json:"kind"`
	RefID          int64           `json:"ref_id"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// Statement 人员对账单，Items 按时间倒序（最新在前）展示
type Statement struct {
	PersonID       int64           `json:"person_id"`
	From           *time.Time      `json:"from,omitempty"`
	To             *time.Time      `json:"to,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Items          []StatementItem `json:"items"`
}
