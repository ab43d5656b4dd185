package geyser

// Filters is the static description of what to subscribe to.
type Filters struct {
	// Accounts are sent as one named filter each. An empty list subscribes
	// to no account updates at all.
	Accounts []AccountFilter

	// Transactions are sent as one named filter each.
	Transactions []TransactionFilter

	// Slots enables slot updates.
	Slots bool

	// Commitment is the minimum confirmation level. Nil leaves it to the server.
	Commitment *CommitmentLevel
}

// BuildSubscribeRequest builds the one-shot subscription request for f.
//
// Sections f leaves unconfigured are nil in the result so they are absent
// on the wire. The result shares no memory with f.
func BuildSubscribeRequest(f Filters) *SubscribeRequest {
	req := &SubscribeRequest{}

	if len(f.Accounts) > 0 {
		req.Accounts = make([]AccountFilter, len(f.Accounts))
		for i, a := range f.Accounts {
			req.Accounts[i] = AccountFilter{
				Account: cloneStrings(a.Account),
				Owner:   cloneStrings(a.Owner),
			}
		}
	}

	if len(f.Transactions) > 0 {
		req.Transactions = make([]TransactionFilter, len(f.Transactions))
		for i, t := range f.Transactions {
			req.Transactions[i] = TransactionFilter{
				Vote:   cloneBool(t.Vote),
				Failed: cloneBool(t.Failed),
			}
		}
	}

	if f.Slots {
		req.Slots = &SlotFilter{}
	}

	if f.Commitment != nil {
		req.Commitment = CommitmentPtr(*f.Commitment)
	}

	return req
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return BoolPtr(*b)
}
