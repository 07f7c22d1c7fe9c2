package price

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

type assetResponse struct {
	Data *struct {
		Name     string  `json:"name"`
		PriceUsd *string `json:"priceUsd"`
	} `json:"data"`
}

// ExtractPrice reads the asset name and the usd price string from a price endpoint response.
func ExtractPrice(body []byte) (entities.PriceInfo, error) {
	var response assetResponse
	err := json.Unmarshal(body, &response)
	if err != nil {
		return entities.PriceInfo{}, errors.Wrapf(entities.ErrMalformed, "decoding price response: %v", err)
	}
	if response.Data == nil || response.Data.PriceUsd == nil {
		return entities.PriceInfo{}, errors.Wrap(entities.ErrMalformed, "price response without data.priceUsd")
	}
	return entities.PriceInfo{
		Name: response.Data.Name,
		Usd:  *response.Data.PriceUsd,
	}, nil
}

type metadataResponse struct {
	Login       *string `json:"login"`
	Blog        string  `json:"blog"`
	PublicRepos uint32  `json:"public_repos"`
}

func ExtractMetadata(body []byte) (entities.Metadata, error) {
	var response metadataResponse
	err := json.Unmarshal(body, &response)
	if err != nil {
		return entities.Metadata{}, errors.Wrapf(entities.ErrMalformed, "decoding metadata response: %v", err)
	}
	if response.Login == nil {
		return entities.Metadata{}, errors.Wrap(entities.ErrMalformed, "metadata response without login")
	}
	return entities.Metadata{
		Login:       *response.Login,
		Blog:        response.Blog,
		PublicRepos: response.PublicRepos,
	}, nil
}
