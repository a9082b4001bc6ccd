package admission

import "strings"

// RequestType is the closed enumeration of rate-limited request categories
// an adapter can issue. Each type maps to an independent budget bucket per
// account; adding a venue-specific type never perturbs other budgets.
type RequestType int

const (
	RequestTypeCreateOrder RequestType = iota
	RequestTypeCancelOrder
	RequestTypeCancelAllOrders
	RequestTypeGetOpenOrders
	RequestTypeGetOrderInfo
	RequestTypeGetMyTrades
	RequestTypeGetBalance
	RequestTypeGetActivePositions
	RequestTypeGetListenKey
	RequestTypeUpdateListenKey
	RequestTypeBuildMetadata

	numRequestTypes
)

var requestTypeNames = [numRequestTypes]string{
	RequestTypeCreateOrder:        "CreateOrder",
	RequestTypeCancelOrder:        "CancelOrder",
	RequestTypeCancelAllOrders:    "CancelAllOrders",
	RequestTypeGetOpenOrders:      "GetOpenOrders",
	RequestTypeGetOrderInfo:       "GetOrderInfo",
	RequestTypeGetMyTrades:        "GetMyTrades",
	RequestTypeGetBalance:         "GetBalance",
	RequestTypeGetActivePositions: "GetActivePositions",
	RequestTypeGetListenKey:       "GetListenKey",
	RequestTypeUpdateListenKey:    "UpdateListenKey",
	RequestTypeBuildMetadata:      "BuildMetadata",
}

func (t RequestType) String() string {
	if t < 0 || t >= numRequestTypes {
		return "RequestType(?)"
	}
	return requestTypeNames[t]
}

// ParseRequestType resolves a request type by name, case-insensitively.
func ParseRequestType(name string) (RequestType, bool) {
	for t, n := range requestTypeNames {
		if strings.EqualFold(n, name) {
			return RequestType(t), true
		}
	}
	return 0, false
}

// AllRequestTypes lists every known request type, in declaration order.
func AllRequestTypes() []RequestType {
	types := make([]RequestType, 0, numRequestTypes)
	for t := RequestType(0); t < numRequestTypes; t++ {
		types = append(types, t)
	}
	return types
}
