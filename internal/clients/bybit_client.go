package clients

import (
	"github.com/hirokisan/bybit/v2"
)

func NewBybitClient() *bybit.Client {
	return bybit.NewClient()
}
