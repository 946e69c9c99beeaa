package service

import (
	"context"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// CampaignTemplates derives per-recipient templates from the campaign row.
// It stands in for the external content/variant source: the campaign's
// template name addresses the approved rich template, the variant refs are
// image links rotated across recipients, and "<name>_text" is the approved
// text fallback carrying the link.
type CampaignTemplates struct {
	Language     string
	FallbackLink string
}

func (t *CampaignTemplates) Templates(_ context.Context, campaign *model.Campaign, contact *model.Contact) (channel.Template, channel.Template, error) {
	data := map[string]string{"name": contact.Name}

	var image string
	if len(campaign.VariantRefs) > 0 {
		image = campaign.VariantRefs[contact.ID%len(campaign.VariantRefs)]
	}

	media := channel.Template{
		Name:       campaign.TemplateName,
		Language:   t.Language,
		ImageLink:  image,
		BodyParams: channel.RenderParams([]string{"{name}"}, data),
	}
	text := channel.Template{
		Name:       campaign.TemplateName + "_text",
		Language:   t.Language,
		BodyParams: channel.RenderParams([]string{"{name}", t.FallbackLink}, data),
	}
	return media, text, nil
}

var _ TemplateSource = (*CampaignTemplates)(nil)
