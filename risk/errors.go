package risk

import "errors"

var errInsufficientBankroll = errors.New("risk: insufficient bankroll for position size")
