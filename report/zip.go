package report

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/traces-scraper/model"
)

// ResultFiles lists what a result archive of dir holds: the certificates r
// records as downloaded, then the report files. Names missing from dir are left
// out, so files not backed by a success in r never end up in the archive.
func ResultFiles(dir string, r *model.Report) []string {
	var names []string
	for _, f := range r.SuccessfulFiles() {
		names = append(names, filepath.Base(f))
	}
	names = append(names, JSONFile, CSVFile, MarkdownFile)

	present := names[:0]
	for _, name := range names {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			present = append(present, name)
		}
	}
	return present
}

// ZipResult writes the ResultFiles of dir into dest
func ZipResult(dir, dest string, r *model.Report) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer out.Close()

	if err := WriteZip(out, dir, ResultFiles(dir, r)); err != nil {
		return err
	}
	return out.Close()
}

// WriteZip streams the named files of dir into w
func WriteZip(w io.Writer, dir string, names []string) error {
	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := addFile(zw, filepath.Join(dir, name), name); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	_, err = io.Copy(dst, f)
	return err
}
