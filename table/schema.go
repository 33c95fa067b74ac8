package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used for tables built by this module.
var Pool = memory.NewGoAllocator()

// Column names of the financial dataset.
const (
	Age                        = "Age"
	AnnualIncome               = "Annual_Income"
	MonthlyExpenses            = "Monthly_Expenses"
	SavingsRate                = "Savings_Rate"
	DebtToIncomeRatio          = "Debt_to_Income_Ratio"
	CurrentInvestmentsValue    = "Current_Investments_Value"
	TotalLoanAmount            = "Total_Loan_Amount"
	AvgCreditScore             = "Avg_Credit_Score"
	InflationRate              = "Inflation_Rate"
	InterestRate               = "Interest_Rate"
	YearsOfEmployment          = "Years_of_Employment"
	JobStabilityScore          = "Job_Stability_Score"
	EmergencyFundValue         = "Emergency_Fund_Value"
	RetirementFundContribution = "Retirement_Fund_Contribution"
	FutureBalance              = "Future_Balance"

	CustomerSegment = "Customer_Segment"
)

// UnknownSegment replaces a missing Customer_Segment.
const UnknownSegment = "Unknown"

// NumericColumns lists the columns coerced to float64 during normalization.
func NumericColumns() []string {
	return []string{
		Age, AnnualIncome, MonthlyExpenses, SavingsRate,
		DebtToIncomeRatio, CurrentInvestmentsValue, TotalLoanAmount,
		AvgCreditScore, InflationRate, InterestRate, YearsOfEmployment,
		JobStabilityScore, EmergencyFundValue, RetirementFundContribution,
		FutureBalance,
	}
}

// RawSchema returns an all-utf8 schema for the given header, the shape the
// loader produces before any coercion.
func RawSchema(header []string) *arrow.Schema {
	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}
