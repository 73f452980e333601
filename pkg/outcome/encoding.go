package outcome

import (
	"encoding/json"
	"fmt"
)

const (
	enumType       = "enum"
	numericalType  = "numerical"
	polynomialType = "polynomial"
	hyperbolaType  = "hyperbola"
)

type descriptorJSON struct {
	Type      string               `json:"type"`
	Enum      *EnumDescriptor      `json:"enum,omitempty"`
	Numerical *NumericalDescriptor `json:"numerical,omitempty"`
}

func MarshalDescriptor(d Descriptor) ([]byte, error) {
	switch desc := d.(type) {
	case EnumDescriptor:
		return json.Marshal(descriptorJSON{Type: enumType, Enum: &desc})
	case NumericalDescriptor:
		return json.Marshal(descriptorJSON{Type: numericalType, Numerical: &desc})
	default:
		return nil, fmt.Errorf("%w: unknown descriptor type %T", ErrInvalidDescriptor, d)
	}
}

func UnmarshalDescriptor(buf []byte) (Descriptor, error) {
	var dto descriptorJSON
	if err := json.Unmarshal(buf, &dto); err != nil {
		return nil, err
	}
	switch {
	case dto.Type == enumType && dto.Enum != nil:
		return *dto.Enum, nil
	case dto.Type == numericalType && dto.Numerical != nil:
		return *dto.Numerical, nil
	default:
		return nil, fmt.Errorf("%w: unknown descriptor type %q", ErrInvalidDescriptor, dto.Type)
	}
}

type pieceJSON struct {
	Type       string           `json:"type"`
	Polynomial *PolynomialPiece `json:"polynomial,omitempty"`
	Hyperbola  *HyperbolaPiece  `json:"hyperbola,omitempty"`
}

func (f PayoutFunction) MarshalJSON() ([]byte, error) {
	pieces := make([]pieceJSON, 0, len(f.Pieces))
	for _, piece := range f.Pieces {
		switch p := piece.(type) {
		case PolynomialPiece:
			pieces = append(pieces, pieceJSON{Type: polynomialType, Polynomial: &p})
		case HyperbolaPiece:
			pieces = append(pieces, pieceJSON{Type: hyperbolaType, Hyperbola: &p})
		default:
			return nil, fmt.Errorf("%w: unknown piece type %T", ErrInvalidPayout, piece)
		}
	}
	return json.Marshal(struct {
		Pieces []pieceJSON `json:"pieces"`
	}{pieces})
}

func (f *PayoutFunction) UnmarshalJSON(buf []byte) error {
	var dto struct {
		Pieces []pieceJSON `json:"pieces"`
	}
	if err := json.Unmarshal(buf, &dto); err != nil {
		return err
	}

	pieces := make([]PayoutPiece, 0, len(dto.Pieces))
	for _, p := range dto.Pieces {
		switch {
		case p.Type == polynomialType && p.Polynomial != nil:
			pieces = append(pieces, *p.Polynomial)
		case p.Type == hyperbolaType && p.Hyperbola != nil:
			pieces = append(pieces, *p.Hyperbola)
		default:
			return fmt.Errorf("%w: unknown piece type %q", ErrInvalidPayout, p.Type)
		}
	}
	f.Pieces = pieces
	return nil
}
