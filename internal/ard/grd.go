package ard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rkm/s1ard/internal/download"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/internal/scene"
	"github.com/rkm/s1ard/internal/unit"
)

// processGRD runs the GRD backscatter chain for one track and date: import
// and thermal noise removal per slice, slice assembly, optional subsetting
// and border noise removal, calibration, multi-looking, speckle filtering,
// terrain flattening for RTC products, dB scaling and terrain correction.
// The finished product is moved out of scratch and sealed with a marker.
func (c *Chain) processGRD(ctx context.Context, u unit.WorkUnit, res *executor.Result) error {
	ard := &c.cfg.Processing.SingleARD
	fileID := fmt.Sprintf("%s_%s", u.Date, u.Key)

	outBS := filepath.Join(u.OutDir, fileID+"_BS")
	outLS := filepath.Join(u.OutDir, fileID+"_LS")

	bsMarker := marker.Path(u.OutDir, marker.Backscatter)
	if marker.Done(bsMarker) {
		empty, err := marker.Empty(bsMarker)
		if err != nil {
			return err
		}
		if !empty {
			res.Backscatter = outBS + ".dim"
			if ard.CreateLSMask && marker.Done(marker.Path(u.OutDir, marker.Layover)) {
				res.Layover = outLS + ".dim"
			}
		}
		c.logger.Info("unit already processed", "unit", u.Key, "date", u.Date)
		return nil
	}

	if err := os.MkdirAll(u.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	temp, err := c.scratchDir(fileID)
	if err != nil {
		return err
	}
	defer os.RemoveAll(temp)

	infile, err := c.grdImport(ctx, u, temp, fileID, ard.Polarisation)
	if err != nil {
		return err
	}

	if ard.RemoveBorderNoise && c.cfg.Subset == "" {
		for _, pol := range ard.PolarisationList() {
			img := filepath.Join(infile+".data", "Intensity_"+pol+".img")
			if _, err := os.Stat(img); err != nil {
				continue
			}
			if err := raster.RemoveBorderNoiseFile(img); err != nil {
				return fmt.Errorf("border noise removal failed for %s: %w", img, err)
			}
		}
	}

	// The subset can fall entirely outside the acquisition, in which case
	// the tool writes no product. The unit is then finished, not failed.
	if !dimExists(infile) {
		c.logger.Info("no product over the area of interest",
			"unit", u.Key, "date", u.Date)
		if err := marker.WriteEmpty(bsMarker); err != nil {
			return err
		}
		if ard.CreateLSMask {
			return marker.WriteEmpty(marker.Path(u.OutDir, marker.Layover))
		}
		return nil
	}

	target, err := ard.CalibrationTarget()
	if err != nil {
		return err
	}
	calibrated := filepath.Join(temp, fileID+"_cal")
	if err := c.tk.Calibrate(ctx, infile+".dim", calibrated,
		c.errLog(u.OutDir, fileID+"_calibration"), target); err != nil {
		return err
	}
	deleteDimap(infile)
	infile = calibrated

	if factor := ard.MultiLookFactor(); factor >= 2 {
		looked := filepath.Join(temp, fileID+"_ml")
		if err := c.tk.MultiLook(ctx, infile+".dim", looked,
			c.errLog(u.OutDir, fileID+"_multilook"), factor, factor); err != nil {
			return err
		}
		deleteDimap(infile)
		infile = looked
	}

	dem := ard.DEMForLatitude(u.CenterLat)

	if ard.CreateLSMask {
		lsTmp := filepath.Join(temp, fileID+"_ls")
		if err := c.tk.LSMask(ctx, infile+".dim", lsTmp,
			c.errLog(u.OutDir, fileID+"_ls_mask"), ard.Resolution, dem); err != nil {
			return err
		}
		if err := moveDimap(lsTmp, outLS); err != nil {
			return err
		}
		if err := marker.WritePassed(marker.Path(u.OutDir, marker.Layover)); err != nil {
			return err
		}
		res.Layover = outLS + ".dim"
	}

	if ard.RemoveSpeckle {
		filtered := filepath.Join(temp, fileID+"_spk")
		if err := c.tk.SpeckleFilter(ctx, infile+".dim", filtered,
			c.errLog(u.OutDir, fileID+"_speckle"), ard.SpeckleFilter); err != nil {
			return err
		}
		deleteDimap(infile)
		infile = filtered
	}

	if ard.ProductType == "RTC-gamma0" {
		flattened := filepath.Join(temp, fileID+"_flat")
		if err := c.tk.TerrainFlattening(ctx, infile+".dim", flattened,
			c.errLog(u.OutDir, fileID+"_flattening"), dem); err != nil {
			return err
		}
		deleteDimap(infile)
		infile = flattened
	}

	if ard.ToDB {
		scaled := filepath.Join(temp, fileID+"_db")
		if err := c.tk.LinearToDB(ctx, infile+".dim", scaled,
			c.errLog(u.OutDir, fileID+"_db")); err != nil {
			return err
		}
		deleteDimap(infile)
		infile = scaled
	}

	geocoded := filepath.Join(temp, fileID+"_bs")
	if err := c.tk.TerrainCorrection(ctx, infile+".dim", geocoded,
		c.errLog(u.OutDir, fileID+"_geocoding"), ard.Resolution, dem); err != nil {
		return err
	}
	deleteDimap(infile)

	if err := moveDimap(geocoded, outBS); err != nil {
		return err
	}
	if err := raster.CheckDimap(outBS + ".dim"); err != nil {
		return err
	}
	if err := marker.WritePassed(bsMarker); err != nil {
		return err
	}
	res.Backscatter = outBS + ".dim"
	c.logger.Info("backscatter product finished",
		"unit", u.Key, "date", u.Date, "product", res.Backscatter)
	return nil
}

// grdImport imports every GRD slice of the unit and assembles consecutive
// slices into one product. Single-scene units with an area of interest are
// cropped inside the import graph; assembled units are cropped afterwards.
func (c *Chain) grdImport(ctx context.Context, u unit.WorkUnit, temp, fileID, pols string) (string, error) {
	imported := make([]string, 0, len(u.Scenes))
	for _, id := range u.Scenes {
		s, err := scene.Parse(id)
		if err != nil {
			return "", err
		}
		archive := download.ScenePath(c.cfg.DownloadDir, s)
		target := filepath.Join(temp, id+"_imported")
		logfile := c.errLog(u.OutDir, id+"_import")

		if len(u.Scenes) == 1 && c.cfg.Subset != "" {
			err = c.tk.GRDImportSubset(ctx, archive, target, logfile, pols, c.cfg.Subset)
		} else {
			err = c.tk.GRDImport(ctx, archive, target, logfile, pols)
		}
		if err != nil {
			return "", err
		}
		imported = append(imported, target)
	}

	if len(imported) == 1 {
		return imported[0], nil
	}

	dims := make([]string, len(imported))
	for i, base := range imported {
		dims[i] = base + ".dim"
	}
	assembled := filepath.Join(temp, fileID+"_assembled")
	if err := c.tk.SliceAssembly(ctx, dims, assembled,
		c.errLog(u.OutDir, fileID+"_assembly"), pols); err != nil {
		return "", err
	}
	for _, base := range imported {
		deleteDimap(base)
	}

	if c.cfg.Subset == "" {
		return assembled, nil
	}
	subset := filepath.Join(temp, fileID+"_subset")
	if err := c.tk.Subset(ctx, assembled+".dim", subset,
		c.errLog(u.OutDir, fileID+"_subset"), c.cfg.Subset); err != nil {
		return "", err
	}
	deleteDimap(assembled)
	return subset, nil
}
