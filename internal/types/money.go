// README: Currency defaults; amounts are int64 minor units throughout.
package types

// DefaultCurrency applies when an order does not name one.
const DefaultCurrency = "USD"
