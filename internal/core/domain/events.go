package domain

type ContractEvent interface {
	isEvent()
}

func (e ContractOffered) isEvent()   {}
func (e ContractAccepted) isEvent()  {}
func (e ContractSigned) isEvent()    {}
func (e ContractConfirmed) isEvent() {}
func (e ContractClosed) isEvent()    {}
func (e ContractRefunded) isEvent()  {}
func (e ContractSettled) isEvent()   {}
func (e ContractFailed) isEvent()    {}
func (e ContractRejected) isEvent()  {}

type ContractOffered struct {
	TemporaryId  string
	IsOfferParty bool
	Offer        OfferMsg
	Timestamp    int64
}

type ContractAccepted struct {
	TemporaryId string
	Id          string
	Accept      AcceptMsg
	FundingTx   string
	FundingTxid string
	Timestamp   int64
}

type ContractSigned struct {
	TemporaryId string
	Id          string
	// Accept is set only when the offer party signs, the accept party
	// already recorded it when accepting.
	Accept      *AcceptMsg
	Sign        SignMsg
	FundingTx   string
	FundingTxid string
	Timestamp   int64
}

type ContractConfirmed struct {
	Id        string
	Timestamp int64
}

type ContractClosed struct {
	Id          string
	ClosingTx   string
	ClosingTxid string
	Resolution  *Resolution
	Timestamp   int64
}

type ContractRefunded struct {
	Id          string
	ClosingTx   string
	ClosingTxid string
	Timestamp   int64
}

type ContractSettled struct {
	Id          string
	ClosingTxid string
	Timestamp   int64
}

type ContractFailed struct {
	Id        string
	State     ContractState
	Reason    string
	Timestamp int64
}

type ContractRejected struct {
	TemporaryId string
	Timestamp   int64
}
