package domain

import "github.com/shopspring/decimal"

// TypeCounts counts ledger legs by direction.
type TypeCounts struct {
	Debit  int64 `json:"debit"`
	Credit int64 `json:"credit"`
}

// KindCounts counts postings by kind. A transfer counts once, not once per leg.
type KindCounts struct {
	Deposit    int64 `json:"deposit"`
	Withdrawal int64 `json:"withdrawal"`
	Transfer   int64 `json:"transfer"`
}

// Summary aggregates the whole ledger.
//
// TotalDeposits and TotalWithdrawals only count money entering or leaving the bank.
// Transfers move money between two accounts of the bank; they are counted in
// CountByType and CountByKind and summed in TransferVolume but do not change the
// deposit or withdrawal totals, so NetCashFlow is the net new money in the system.
type Summary struct {
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals_amount"`
	TotalDeposits     decimal.Decimal `json:"total_deposits_amount"`
	NetCashFlow       decimal.Decimal `json:"net_cash_flow"`
	TransferVolume    decimal.Decimal `json:"total_transfer_amount"`
	CountByType       TypeCounts      `json:"count_by_type"`
	CountByKind       KindCounts      `json:"count_by_kind"`
	TotalTransactions int64           `json:"total_transactions_count"`
}

// Apply folds one committed leg into the summary.
func (s *Summary) Apply(tx Transaction) {
	switch tx.Type {
	case TypeDebit:
		s.CountByType.Debit++
	case TypeCredit:
		s.CountByType.Credit++
	}

	switch tx.Kind {
	case KindDeposit:
		s.TotalDeposits = s.TotalDeposits.Add(tx.Amount)
		s.CountByKind.Deposit++
		s.TotalTransactions++
	case KindWithdrawal:
		s.TotalWithdrawals = s.TotalWithdrawals.Add(tx.Amount)
		s.CountByKind.Withdrawal++
		s.TotalTransactions++
	case KindTransfer:
		// the debit leg stands for the whole transfer
		if tx.Type == TypeDebit {
			s.TransferVolume = s.TransferVolume.Add(tx.Amount)
			s.CountByKind.Transfer++
			s.TotalTransactions++
		}
	}

	s.NetCashFlow = s.TotalDeposits.Sub(s.TotalWithdrawals)
}

// Equal compares two summaries by value.
func (s Summary) Equal(other Summary) bool {
	return s.TotalWithdrawals.Equal(other.TotalWithdrawals) &&
		s.TotalDeposits.Equal(other.TotalDeposits) &&
		s.NetCashFlow.Equal(other.NetCashFlow) &&
		s.TransferVolume.Equal(other.TransferVolume) &&
		s.CountByType == other.CountByType &&
		s.CountByKind == other.CountByKind &&
		s.TotalTransactions == other.TotalTransactions
}
