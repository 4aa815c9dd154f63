package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/blobclient"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// uploadSelectedPDF uploads state.PDFAttachment's bytes via the blob
// client, shared by CallDifyContract (which needs file_upload.file_url
// before it can call the LLM — see DESIGN.md's "call_dify_contract vs
// upload_pdf ordering" decision) and UploadPDF itself. blobclient.Upload
// is content-addressed by sha256, so calling this twice for the same
// bytes across two nodes in one run is a harmless duplicate write, not a
// correctness hazard.
func uploadSelectedPDF(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) blobclient.UploadResult {
	att := state.PDFAttachment
	if att == nil {
		return blobclient.UploadResult{OK: false, Error: "no pdf attachment selected"}
	}
	if len(att.Payload) == 0 {
		return blobclient.UploadResult{OK: false, Error: "pdf bytes not available"}
	}
	return deps.Blob.Upload(ctx, state.EmailEvent.MessageID, att.Payload, att.Filename, att.ContentType, att.SHA256)
}

func toFileUploadResult(r blobclient.UploadResult) model.FileUploadResult {
	return model.FileUploadResult{OK: r.OK, FileURL: r.FileURL, FileID: r.FileID, SHA256: r.SHA256, Error: r.Error}
}
