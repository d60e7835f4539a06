/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package helpercontract pins the wire shapes shared with the separately
// deployed desktop helper. These structs are append-only: published fields
// never move, rename, or change type. New fields may be added at the end.
package helpercontract

// SettingValueResponse is the cloud-side frozen response of
// GET /api/settings/value/{key}.
type SettingValueResponse struct {
	Key        string `json:"key"`
	Department string `json:"department"`
	Value      string `json:"value"`
}

// HealthResponse is the helper's GET /health response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// PDFScanResponse is the helper's POST /api/pdf/scan response.
type PDFScanResponse struct {
	Success      bool     `json:"success"`
	FileName     string   `json:"file_name"`
	TotalPages   int      `json:"total_pages"`
	Barcodes     []string `json:"barcodes"`
	ErrorMessage string   `json:"error_message"`
}

// SplitFile is one output of a PDF split.
type SplitFile struct {
	FileName  string `json:"file_name"`
	Barcode   string `json:"barcode"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
}

// PDFSplitResponse is the helper's POST /api/pdf/split response.
type PDFSplitResponse struct {
	Success      bool        `json:"success"`
	FileName     string      `json:"file_name"`
	TotalPages   int         `json:"total_pages"`
	FilesCreated int         `json:"files_created"`
	SplitFiles   []SplitFile `json:"split_files"`
	ErrorMessage string      `json:"error_message"`
}

// PDFProcessResponse is the helper's POST /api/pdf/process response.
type PDFProcessResponse struct {
	Success          bool        `json:"success"`
	TaskID           string      `json:"task_id"`
	FileName         string      `json:"file_name"`
	TotalPages       int         `json:"total_pages"`
	BarcodesFound    int         `json:"barcodes_found"`
	FilesCreated     int         `json:"files_created"`
	FilesUploaded    int         `json:"files_uploaded"`
	SplitFiles       []SplitFile `json:"split_files"`
	ErrorMessage     string      `json:"error_message"`
	ProcessingTimeMS int64       `json:"processing_time_ms"`
}

// BarcodeGenerateResponse is the helper's POST /api/barcode/generate
// response.
type BarcodeGenerateResponse struct {
	Success      bool   `json:"success"`
	Data         string `json:"data"`
	Format       string `json:"format"`
	ImageFormat  string `json:"image_format"`
	Base64Image  string `json:"base64_image"`
	DataURI      string `json:"data_uri"`
	ErrorMessage string `json:"error_message"`
}
