package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
)

// Image is one row of the images table.
type Image struct {
	ID     int64
	Name   string
	Camera *geometry.Camera // nil when intrinsics are unknown
}

// AddImage inserts an image and returns its id.
func (db *DB) AddImage(name string, cam *geometry.Camera) (int64, error) {
	var fx, fy, cx, cy sql.NullFloat64
	if cam != nil {
		fx = sql.NullFloat64{Float64: cam.FocalX, Valid: true}
		fy = sql.NullFloat64{Float64: cam.FocalY, Valid: true}
		cx = sql.NullFloat64{Float64: cam.CX, Valid: true}
		cy = sql.NullFloat64{Float64: cam.CY, Valid: true}
	}
	res, err := db.Exec(`INSERT INTO images (name, focal_x, focal_y, cx, cy) VALUES (?, ?, ?, ?, ?)`,
		name, fx, fy, cx, cy)
	if err != nil {
		return 0, fmt.Errorf("insert image %q: %w", name, err)
	}
	return res.LastInsertId()
}

// Images lists every image ordered by id.
func (db *DB) Images() ([]Image, error) {
	rows, err := db.Query(`SELECT image_id, name, focal_x, focal_y, cx, cy FROM images ORDER BY image_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var (
			img            Image
			fx, fy, cx, cy sql.NullFloat64
		)
		if err := rows.Scan(&img.ID, &img.Name, &fx, &fy, &cx, &cy); err != nil {
			return nil, err
		}
		if fx.Valid && fy.Valid && cx.Valid && cy.Valid {
			img.Camera = &geometry.Camera{FocalX: fx.Float64, FocalY: fy.Float64, CX: cx.Float64, CY: cy.Float64}
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// WriteFeatures stores the keypoints and descriptors of an image,
// replacing any previous rows.
func (db *DB) WriteFeatures(imageID int64, set *feature.DescriptorSet) error {
	if set == nil {
		return fmt.Errorf("write features for image %d: nil set", imageID)
	}
	if err := set.Validate(); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO keypoints (image_id, rows, data) VALUES (?, ?, ?)`,
		imageID, set.Len(), encodeKeypoints(set.Keypoints)); err != nil {
		return fmt.Errorf("write keypoints for image %d: %w", imageID, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO descriptors (image_id, rows, cols, data) VALUES (?, ?, ?, ?)`,
		imageID, set.Len(), set.Dim, set.Descriptors); err != nil {
		return fmt.Errorf("write descriptors for image %d: %w", imageID, err)
	}
	return tx.Commit()
}

// ReadFeatures loads the features of an image.
func (db *DB) ReadFeatures(imageID int64) (*feature.DescriptorSet, error) {
	var (
		kpRows, descRows, dim int
		kpData, descData      []byte
	)
	err := db.QueryRow(`SELECT k.rows, k.data, d.rows, d.cols, d.data
		FROM keypoints k JOIN descriptors d ON d.image_id = k.image_id
		WHERE k.image_id = ?`, imageID).Scan(&kpRows, &kpData, &descRows, &dim, &descData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("features for image %d: %w", imageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if kpRows != descRows {
		return nil, fmt.Errorf("image %d: %d keypoints but %d descriptors", imageID, kpRows, descRows)
	}
	kps, err := decodeKeypoints(kpData, kpRows)
	if err != nil {
		return nil, err
	}
	if descData == nil {
		descData = []uint8{}
	}
	return feature.NewDescriptorSet(kps, descData, dim)
}

// WriteMatches stores the raw matches of (id1, id2).
func (db *DB) WriteMatches(id1, id2 int64, matches feature.MatchList) error {
	if swapped(id1, id2) {
		matches = matches.Swap()
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO matches (pair_id, rows, data) VALUES (?, ?, ?)`,
		PairID(id1, id2), len(matches), encodeMatches(matches))
	if err != nil {
		return fmt.Errorf("write matches (%d,%d): %w", id1, id2, err)
	}
	return nil
}

// ReadMatches loads the raw matches of (id1, id2) with Idx1 referring to
// image id1.
func (db *DB) ReadMatches(id1, id2 int64) (feature.MatchList, error) {
	var (
		rows int
		data []byte
	)
	err := db.QueryRow(`SELECT rows, data FROM matches WHERE pair_id = ?`, PairID(id1, id2)).Scan(&rows, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("matches (%d,%d): %w", id1, id2, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	matches, err := decodeMatches(data, rows)
	if err != nil {
		return nil, err
	}
	if swapped(id1, id2) {
		matches = matches.Swap()
	}
	return matches, nil
}

// WriteGeometry stores the inlier matches and models of a verified pair.
func (db *DB) WriteGeometry(id1, id2 int64, g *geometry.TwoViewGeometry) error {
	inliers := g.Inliers()
	models := g.Models
	if swapped(id1, id2) {
		inliers = inliers.Swap()
		var err error
		if models, err = invertModels(models); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO two_view_geometries
		(pair_id, geometry_id, kind, rows, data, models, num_trials, inlier_ratio, mean_residual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		PairID(id1, id2), g.ID, g.Kind.String(), len(inliers), encodeMatches(inliers),
		encodeModels(models), g.NumTrials, g.InlierRatio, g.MeanResidual)
	if err != nil {
		return fmt.Errorf("write geometry (%d,%d): %w", id1, id2, err)
	}
	diagf("stored %v geometry for (%d,%d) with %d inliers", g.Kind, id1, id2, len(inliers))
	return nil
}

// ReadGeometry loads a verified pair. Matches holds the inliers only, all
// flagged in InlierMask.
func (db *DB) ReadGeometry(id1, id2 int64) (*geometry.TwoViewGeometry, error) {
	var (
		g          geometry.TwoViewGeometry
		kind       string
		rows       int
		data, mblb []byte
	)
	err := db.QueryRow(`SELECT geometry_id, kind, rows, data, models, num_trials, inlier_ratio, mean_residual
		FROM two_view_geometries WHERE pair_id = ?`, PairID(id1, id2)).
		Scan(&g.ID, &kind, &rows, &data, &mblb, &g.NumTrials, &g.InlierRatio, &g.MeanResidual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("geometry (%d,%d): %w", id1, id2, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if g.Kind, err = geometry.ParseKind(kind); err != nil {
		return nil, err
	}
	if g.Matches, err = decodeMatches(data, rows); err != nil {
		return nil, err
	}
	if g.Models, err = decodeModels(mblb); err != nil {
		return nil, err
	}
	if swapped(id1, id2) {
		g.Matches = g.Matches.Swap()
		if g.Models, err = invertModels(g.Models); err != nil {
			return nil, err
		}
	}
	g.NumInliers = len(g.Matches)
	g.InlierMask = make([]bool, len(g.Matches))
	for i := range g.InlierMask {
		g.InlierMask[i] = true
	}
	return &g, nil
}

func invertModels(models []geometry.Model) ([]geometry.Model, error) {
	out := make([]geometry.Model, len(models))
	for i, m := range models {
		inv, err := invertModel(m)
		if err != nil {
			return nil, err
		}
		out[i] = inv
	}
	return out, nil
}
