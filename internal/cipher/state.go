package cipher

// Suite pairs the send and receive DirectionState for one side of the
// connection, plus the session identifier that survives for the life
// of the connection (spec section 3: "the session identifier is the
// first exchange hash ever computed on this connection").
type Suite struct {
	Send    *DirectionState
	Receive *DirectionState

	// SessionID is set once, on the first key exchange, and reused by
	// every subsequent GenerateKey call even across a re-exchange
	// (which this core does not drive, but the field is still named
	// per spec so a future re-exchange implementation has somewhere
	// to read it from).
	SessionID []byte
}
