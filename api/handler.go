package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/qubic/go-offchain-worker/entities"
	"github.com/shopspring/decimal"
)

type StateProvider interface {
	Numbers() ([]uint64, error)
	Prices() ([]entities.PricePoint, error)
}

type BlockProvider interface {
	CurrentBlock() uint64
}

type Handler struct {
	sp StateProvider
	bp BlockProvider
}

type StateResponse struct {
	Block   uint64            `json:"block"`
	Numbers []uint64          `json:"numbers"`
	Prices  []decimal.Decimal `json:"prices"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewHandler(sp StateProvider, bp BlockProvider) *Handler {
	return &Handler{sp: sp, bp: bp}
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(HealthResponse{
		Status: "UP",
	})
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}

// GetState returns the current number and price histories, oldest first.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	numbers, err := h.sp.Numbers()
	if err != nil {
		log.Printf("Error getting numbers: %v", err)
		http.Error(w, "Error getting numbers", 500)
		return
	}
	prices, err := h.sp.Prices()
	if err != nil {
		log.Printf("Error getting prices: %v", err)
		http.Error(w, "Error getting prices", 500)
		return
	}

	response := StateResponse{
		Block:   h.bp.CurrentBlock(),
		Numbers: numbers,
		Prices:  make([]decimal.Decimal, 0, len(prices)),
	}
	for _, price := range prices {
		response.Prices = append(response.Prices, price.Decimal())
	}
	if response.Numbers == nil {
		response.Numbers = []uint64{}
	}

	w.Header().Add("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(response)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}
