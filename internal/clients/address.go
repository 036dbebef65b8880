package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

type addressDTO struct {
	AddressID  uuid.UUID `json:"addressId"`
	Label      string    `json:"label"`
	Country    string    `json:"country"`
	State      string    `json:"state"`
	City       string    `json:"city"`
	Zip        string    `json:"zip"`
	Street     string    `json:"street"`
	Number     string    `json:"number"`
	Complement string    `json:"complement"`
}

// AddressClient implements orders.AddressLookup against the user service.
type AddressClient struct{ base }

func NewAddressClient(url, token string, timeout time.Duration, hc *http.Client) *AddressClient {
	return &AddressClient{newBase(url, token, timeout, hc)}
}

func (c *AddressClient) GetAddress(ctx context.Context, addressID uuid.UUID) (orders.AddressSnapshot, error) {
	var dto addressDTO
	err := c.getJSON(ctx, "/api/v1/addresses/"+addressID.String(), &dto)
	if errors.Is(err, errNotFound) {
		return orders.AddressSnapshot{}, apperr.NotFound("address", addressID.String())
	}
	if err != nil {
		return orders.AddressSnapshot{}, apperr.UserServiceUnavailable(err)
	}
	return orders.AddressSnapshot(dto), nil
}
