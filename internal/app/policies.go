package app

import (
	"context"

	"docqa/internal/access"
	"docqa/internal/model"
)

// DocumentPolicies exposes document records to the access gate.
type DocumentPolicies struct {
	docs DocumentStore
}

var _ access.PolicySource = (*DocumentPolicies)(nil)

func NewDocumentPolicies(docs DocumentStore) *DocumentPolicies {
	return &DocumentPolicies{docs: docs}
}

func (p *DocumentPolicies) FilePolicy(ctx context.Context, file string) (*access.Policy, error) {
	doc, err := p.docs.GetByFile(ctx, file)
	if err != nil || doc == nil {
		return nil, err
	}
	policy := toPolicy(*doc)
	return &policy, nil
}

func (p *DocumentPolicies) RoomPolicies(ctx context.Context, roomID string) ([]access.Policy, error) {
	docs, err := p.docs.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	policies := make([]access.Policy, len(docs))
	for i, d := range docs {
		policies[i] = toPolicy(d)
	}
	return policies, nil
}

func toPolicy(doc model.Document) access.Policy {
	return access.Policy{
		File:         doc.File,
		RolesAllowed: doc.RolesAllowed,
		UsersAllowed: doc.UsersAllowed,
	}
}
