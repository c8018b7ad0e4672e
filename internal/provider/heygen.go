package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ignite/outreach-engine/internal/reliability"
)

// HeyGen renders personalized outreach videos. Generation is
// asynchronous: GenerateVideo returns a pending result and GetVideo polls
// for completion.
type HeyGen struct {
	rest     *restClient
	avatarID string
}

// NewHeyGen creates the video adapter. avatarID is the default presenter
// used when a request does not specify one.
func NewHeyGen(baseURL, apiKey, avatarID string, caller *reliability.Caller) *HeyGen {
	return &HeyGen{
		rest: newRESTClient("heygen", baseURL, caller, func(req *http.Request) {
			req.Header.Set("X-Api-Key", apiKey)
		}),
		avatarID: avatarID,
	}
}

// Name identifies this provider in events and logs.
func (h *HeyGen) Name() string { return "heygen" }

type heygenGenerateRequest struct {
	AvatarID string `json:"avatar_id"`
	Script   string `json:"script"`
	Title    string `json:"title,omitempty"`
}

type heygenGenerateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

// GenerateVideo starts rendering a clip from the script. The result is
// not ready yet; poll with GetVideo.
func (h *HeyGen) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	if req.Script == "" {
		return nil, reliability.Validationf("video script is empty")
	}

	avatar := req.AvatarID
	if avatar == "" {
		avatar = h.avatarID
	}
	payload := heygenGenerateRequest{
		AvatarID: avatar,
		Script:   req.Script,
		Title:    "outreach-" + req.LeadEmail,
	}

	var resp heygenGenerateResponse
	if err := h.rest.doJSON(ctx, http.MethodPost, "/video/generate", payload, &resp); err != nil {
		return nil, fmt.Errorf("heygen generate: %w", err)
	}
	return &VideoResult{VideoID: resp.Data.VideoID, Ready: false}, nil
}

type heygenStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
	} `json:"data"`
}

// GetVideo fetches the rendering status and URL for a video.
func (h *HeyGen) GetVideo(ctx context.Context, videoID string) (*VideoResult, error) {
	path := "/video_status.get?video_id=" + url.QueryEscape(videoID)

	var resp heygenStatusResponse
	if err := h.rest.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("heygen status %s: %w", videoID, err)
	}
	return &VideoResult{
		VideoID: videoID,
		URL:     resp.Data.VideoURL,
		Ready:   resp.Data.Status == "completed",
	}, nil
}
