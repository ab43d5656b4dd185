package geyser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSubscribeRequest_AllSections(t *testing.T) {
	req := BuildSubscribeRequest(Filters{
		Accounts:     []AccountFilter{{Account: []string{usdcVault}}},
		Transactions: []TransactionFilter{{Vote: BoolPtr(false), Failed: BoolPtr(false)}},
		Slots:        true,
		Commitment:   CommitmentPtr(CommitmentConfirmed),
	})

	require.Len(t, req.Accounts, 1)
	assert.Equal(t, []string{usdcVault}, req.Accounts[0].Account)
	assert.Empty(t, req.Accounts[0].Owner)

	require.Len(t, req.Transactions, 1)
	require.NotNil(t, req.Transactions[0].Vote)
	require.NotNil(t, req.Transactions[0].Failed)
	assert.False(t, *req.Transactions[0].Vote)
	assert.False(t, *req.Transactions[0].Failed)

	assert.NotNil(t, req.Slots)
	require.NotNil(t, req.Commitment)
	assert.Equal(t, CommitmentConfirmed, *req.Commitment)
	assert.Nil(t, req.Ping)
}

func TestBuildSubscribeRequest_UnconfiguredSectionsAbsent(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		check   func(t *testing.T, req *SubscribeRequest)
	}{
		{
			name:    "nothing",
			filters: Filters{},
			check: func(t *testing.T, req *SubscribeRequest) {
				assert.Equal(t, &SubscribeRequest{}, req)
			},
		},
		{
			name:    "slots only",
			filters: Filters{Slots: true},
			check: func(t *testing.T, req *SubscribeRequest) {
				assert.Nil(t, req.Accounts)
				assert.Nil(t, req.Transactions)
				assert.Nil(t, req.Commitment)
				assert.NotNil(t, req.Slots)
			},
		},
		{
			name:    "commitment only",
			filters: Filters{Commitment: CommitmentPtr(CommitmentProcessed)},
			check: func(t *testing.T, req *SubscribeRequest) {
				assert.Nil(t, req.Accounts)
				assert.Nil(t, req.Transactions)
				assert.Nil(t, req.Slots)
				require.NotNil(t, req.Commitment)
				assert.Equal(t, CommitmentProcessed, *req.Commitment)
			},
		},
		{
			name:    "empty lists stay absent",
			filters: Filters{Accounts: []AccountFilter{}, Transactions: []TransactionFilter{}},
			check: func(t *testing.T, req *SubscribeRequest) {
				assert.Nil(t, req.Accounts)
				assert.Nil(t, req.Transactions)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, BuildSubscribeRequest(tt.filters))
		})
	}
}

func TestBuildSubscribeRequest_MatchAllAccountFilter(t *testing.T) {
	req := BuildSubscribeRequest(Filters{Accounts: []AccountFilter{{}}})

	require.Len(t, req.Accounts, 1)
	assert.Empty(t, req.Accounts[0].Account)
	assert.Empty(t, req.Accounts[0].Owner)
}

func TestBuildSubscribeRequest_CopiesInputs(t *testing.T) {
	vote := false
	commitment := CommitmentFinalized
	filters := Filters{
		Accounts:     []AccountFilter{{Account: []string{usdcVault}}},
		Transactions: []TransactionFilter{{Vote: &vote}},
		Commitment:   &commitment,
	}

	req := BuildSubscribeRequest(filters)

	filters.Accounts[0].Account[0] = tokenProgram
	vote = true
	commitment = CommitmentProcessed

	assert.Equal(t, usdcVault, req.Accounts[0].Account[0])
	assert.False(t, *req.Transactions[0].Vote)
	assert.Equal(t, CommitmentFinalized, *req.Commitment)
}
